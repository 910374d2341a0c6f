// Command tessera is the CLI for the tessera retrieval core.
//
// Usage:
//
//	tessera bootstrap --config config.yaml --tenant acme
//	tessera ingest --kb docs --title "Guide" --file guide.md
//	tessera query --kb docs "how do I rotate keys?"
//	tessera reconcile --kb docs
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/tessera-kb/tessera/pkg/config"
	"github.com/tessera-kb/tessera/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version       VersionCmd       `cmd:"" help:"Show version information."`
	Bootstrap     BootstrapCmd     `cmd:"" help:"Create a tenant with an admin API key."`
	CreateKB      CreateKBCmd      `cmd:"" name:"create-kb" help:"Create a knowledge base from a config file."`
	Ingest        IngestCmd        `cmd:"" help:"Ingest a document into a knowledge base."`
	Query         QueryCmd         `cmd:"" help:"Query one or more knowledge bases."`
	Delete        DeleteCmd        `cmd:"" help:"Delete a document and its derived records."`
	Retry         RetryCmd         `cmd:"" help:"Re-index failed chunks."`
	Reconcile     ReconcileCmd     `cmd:"" help:"Check indexed chunks against the vector store."`
	RebuildSparse RebuildSparseCmd `cmd:"" name:"rebuild-sparse" help:"Reload a KB's sparse index from storage."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"tessera.yaml"`
	APIKey   string `name:"api-key" help:"API key id (defaults to TESSERA_API_KEY)." env:"TESSERA_API_KEY"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("tessera version %s\n", version)
	return nil
}

// loadConfig reads the YAML config and installs the logger.
func (cli *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger.Init(logger.ParseLevel(level), os.Stderr, cfg.Logging.Format)
	return cfg, nil
}

func main() {
	// Local-mode convenience; a missing .env is not an error.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tessera"),
		kong.Description("Multi-tenant knowledge base retrieval core."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
