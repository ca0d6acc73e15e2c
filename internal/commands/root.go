package commands

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiverdata/govcontracts/internal/buildinfo"
	"github.com/quiverdata/govcontracts/internal/config"
	"github.com/quiverdata/govcontracts/internal/logger"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "govcontracts",
		Short:   "Government contract award downloader",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.FileName, "config file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newFetchCommand(opts))
	rootCmd.AddCommand(newUniverseCommand(opts))
	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newVerifyCommand(opts))

	return rootCmd
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, then applies environment overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *globalOptions) logger(w io.Writer) logger.Logger {
	if o.verbose {
		return logger.NewVerboseLogger(w)
	}
	return logger.NewStandardLogger(w)
}
