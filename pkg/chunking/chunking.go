// Package chunking splits document text into ordered retrieval units.
// Every chunker yields dense 0-based ordinals and carries chunk_index
// in metadata; structural variants add their own annotations.
package chunking

import (
	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// Piece is one chunk record as produced by a chunker, before it is
// persisted as a types.Chunk.
type Piece struct {
	Ordinal  int
	Text     string
	Metadata map[string]any
}

// DocumentInfo is the document-level metadata a chunker may consult.
type DocumentInfo struct {
	Title string
	// Language hints the code chunker; empty means auto-detect.
	Language string
}

// Chunker turns document text into an ordered, finite sequence of
// pieces.
type Chunker interface {
	Chunk(text string, doc DocumentInfo) ([]Piece, error)
}

// finalize assigns dense ordinals and the chunk_index metadata field.
func finalize(pieces []Piece) []Piece {
	for i := range pieces {
		if pieces[i].Metadata == nil {
			pieces[i].Metadata = make(map[string]any)
		}
		pieces[i].Ordinal = i
		pieces[i].Metadata[types.MetaChunkIndex] = i
	}
	return pieces
}

// Register adds every built-in chunker to the operator directory.
func Register(dir *operator.Directory) error {
	chunkers := []operator.Descriptor{
		{Category: operator.CategoryChunker, Name: "paragraph", Factory: newParagraph},
		{Category: operator.CategoryChunker, Name: "sliding_window", Factory: newSlidingWindow},
		{Category: operator.CategoryChunker, Name: "recursive", Factory: newRecursive},
		{Category: operator.CategoryChunker, Name: "markdown", Factory: newMarkdown},
		{Category: operator.CategoryChunker, Name: "code", Factory: newCode},
		{Category: operator.CategoryChunker, Name: "parent_child", Factory: newParentChild},
		{Category: operator.CategoryChunker, Name: "sentence", Factory: newSentence},
		{Category: operator.CategoryChunker, Name: "token", Factory: newToken},
	}
	for _, desc := range chunkers {
		if err := dir.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

// Build constructs the chunker a knowledge base names.
func Build(dir *operator.Directory, ref types.OperatorRef) (Chunker, error) {
	op, err := dir.Build(operator.CategoryChunker, ref)
	if err != nil {
		return nil, err
	}
	chunker, ok := op.(Chunker)
	if !ok {
		return nil, types.NewError(types.ErrInternal, "operator %q is not a chunker", ref.Name)
	}
	return chunker, nil
}

// hardSplit cuts text into at-most-size character slices at rune
// boundaries. Used as the last resort when no separator fits.
func hardSplit(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
