package chunking

import (
	"regexp"
	"strings"

	"github.com/tessera-kb/tessera/pkg/operator"
	"github.com/tessera-kb/tessera/pkg/types"
)

// CodeParams configures the code-aware chunker.
type CodeParams struct {
	// Language overrides detection ("go", "python", "javascript", ...).
	Language string `mapstructure:"language"`
	MaxChars int    `mapstructure:"max_chars"`
}

func (p *CodeParams) setDefaults() {
	if p.MaxChars <= 0 {
		p.MaxChars = 1500
	}
}

// CodeChunker splits source text at top-level declaration boundaries.
// Each chunk records the language and the kind of its first block.
type CodeChunker struct {
	params CodeParams
}

func newCode(params map[string]any) (any, error) {
	var p CodeParams
	if err := operator.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	p.setDefaults()
	return &CodeChunker{params: p}, nil
}

// declPatterns match lines that open a top-level declaration, keyed by
// block kind.
var declPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"function", regexp.MustCompile(`^(func |def |function |fn |public |private |protected |static )`)},
	{"type", regexp.MustCompile(`^(type |class |struct |enum |interface |trait )`)},
	{"import", regexp.MustCompile(`^(import |from .+ import |#include |use |require)`)},
	{"var", regexp.MustCompile(`^(var |let |const |val )`)},
	{"package", regexp.MustCompile(`^(package |module |namespace )`)},
}

func (c *CodeChunker) Chunk(text string, doc DocumentInfo) ([]Piece, error) {
	language := c.params.Language
	if language == "" {
		language = doc.Language
	}
	if language == "" {
		language = detectLanguage(text)
	}

	lines := strings.Split(text, "\n")
	var pieces []Piece
	var current strings.Builder
	currentKind := "code"

	flush := func() {
		body := strings.TrimRight(current.String(), "\n")
		current.Reset()
		if strings.TrimSpace(body) == "" {
			return
		}
		for _, part := range hardSplit(body, c.params.MaxChars) {
			pieces = append(pieces, Piece{
				Text: part,
				Metadata: map[string]any{
					types.MetaLanguage:  language,
					types.MetaBlockKind: currentKind,
				},
			})
		}
	}

	for _, line := range lines {
		// Only unindented lines start a new top-level block.
		if !isIndented(line) {
			if kind, ok := declKind(line); ok {
				if current.Len() > 0 {
					flush()
				}
				currentKind = kind
			}
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return finalize(pieces), nil
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

func declKind(line string) (string, bool) {
	for _, p := range declPatterns {
		if p.re.MatchString(line) {
			return p.kind, true
		}
	}
	return "", false
}

// detectLanguage applies cheap syntactic signals. Unknown inputs come
// back as "unknown" rather than guessing.
func detectLanguage(text string) string {
	switch {
	case strings.Contains(text, "package ") && strings.Contains(text, "func "):
		return "go"
	case strings.Contains(text, "def ") && strings.Contains(text, ":"):
		return "python"
	case strings.Contains(text, "function ") || strings.Contains(text, "=> {"):
		return "javascript"
	case strings.Contains(text, "#include"):
		return "c"
	case strings.Contains(text, "fn ") && strings.Contains(text, "->"):
		return "rust"
	default:
		return "unknown"
	}
}
