package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/app"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/config"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *config.Config
	flush      func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	root := c.rootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "kgctl",
		Short:   "Build and query a knowledge graph from documents",
		Version: version,
		Long: `kgctl ingests documents into a knowledge graph, retrieves context with
hybrid vector and graph search, and infers new relationships.

Configuration comes from .env, the environment and an optional YAML file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			flush, err := app.InitLogger(cfg.Log, "kgctl")
			if err != nil {
				return err
			}
			c.cfg, c.flush = cfg, flush
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.flush != nil {
				c.flush()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (default $KG_CONFIG_FILE)")

	ingestCmd := &cobra.Command{
		Use:   "ingest <file|url>...",
		Short: "Parse, extract and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runIngest,
	}
	ingestCmd.Flags().String("format", "", "Declared format for every input (default: from extension or content)")
	ingestCmd.Flags().Bool("archive", false, "Also store each source in the S3 archive")

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <path>...",
		Short: "Queue documents for ingestion by the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runEnqueue,
	}
	enqueueCmd.Flags().String("location", "s3", "Where the worker reads the documents: s3|web|file")
	enqueueCmd.Flags().String("format", "", "Declared format for every input")

	retrieveCmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Rank entities and fragments relevant to a query",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runRetrieve,
	}
	retrieveCmd.Flags().IntP("top", "k", 10, "Number of results")
	retrieveCmd.Flags().Bool("json", false, "Print machine-readable results")

	inferCmd := &cobra.Command{
		Use:   "infer",
		Short: "Run an inference pass over the graph",
		RunE:  c.runInfer,
	}
	inferCmd.Flags().String("scope", "", "CEL expression over entity, e.g. entity.type == \"Person\"")
	inferCmd.Flags().Bool("dry-run", false, "List candidate pairs without calling the model")
	inferCmd.Flags().Bool("queue", false, "Ask the worker to run the pass instead")

	neighborhoodCmd := &cobra.Command{
		Use:   "neighborhood <name|id>",
		Short: "Print the subgraph around an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runNeighborhood,
	}
	neighborhoodCmd.Flags().Int("hops", 1, "Traversal depth")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every entity and relationship as JSON",
		RunE:  c.runExport,
	}
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every entity, relationship and fragment",
		RunE:  c.runReset,
	}
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
	resetCmd.Flags().Bool("archive", false, "Also purge the S3 archive")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		RunE:  c.runMigrate,
	}

	root.AddCommand(ingestCmd, enqueueCmd, retrieveCmd, inferCmd, neighborhoodCmd, exportCmd, resetCmd, migrateCmd)
	return root
}
