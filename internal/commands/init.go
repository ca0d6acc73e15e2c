package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quiverdata/govcontracts/internal/config"
	"github.com/quiverdata/govcontracts/internal/store"
)

func newInitCommand() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default config and create the store directories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(absDir, backend); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized govcontracts project at %s\n", absDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", config.BackendFile, "storage backend (file or bolt)")

	return cmd
}

func runInit(dir, backend string) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	cfg := config.Default()
	cfg.Storage.Backend = backend
	if backend == config.BackendBolt {
		cfg.Storage.BoltPath = filepath.Join(cfg.Storage.OutputDir, "govcontracts.db")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Create directory structure.
	dirs := []string{
		filepath.Join(cfg.Storage.DataDir, store.DatasetDir),
		filepath.Join(cfg.Storage.OutputDir, store.DatasetDir, "universe"),
		filepath.Join(cfg.Storage.OutputDir, "logs"),
		cfg.Universe.MapFilesDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Keep credentials and run output out of version control.
	gitignore := ".env\noutput/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	return nil
}
