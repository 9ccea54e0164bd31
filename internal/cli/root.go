// Package cli implements the catalogd command line: the admin API server,
// the job worker and one-shot operator commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-catalog-ingest/internal/config"
	"github.com/tbourn/go-catalog-ingest/internal/sysutil"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{FormatJSON, FormatYAML}

// defaultEnvFile is loaded when present and --env-file is not given.
const defaultEnvFile = ".env"

// RootOptions holds global flags and the state every subcommand shares.
type RootOptions struct {
	Format  string
	EnvFile string
	Version string

	cfg  config.Config
	logs io.Closer
}

// NewRootCommand creates the catalogd root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "catalogd",
		Short:         "Catalog ingestion service",
		Long:          "Runs the catalog job queue, its workers and scheduler, and the admin HTTP API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := loadEnvFile(opts.EnvFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			opts.logs = sysutil.SetupLogging(cfg, cmd.Name())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.closeLogs()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatJSON, "output format (json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load before reading configuration (default .env when present)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))

	return cmd
}

func (o *RootOptions) closeLogs() error {
	if o.logs == nil {
		return nil
	}
	err := o.logs.Close()
	o.logs = nil
	return err
}

// loadEnvFile populates the process environment from a dotenv file without
// overriding variables that are already set. An explicit path must exist.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
