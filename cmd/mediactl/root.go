package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/abduss/gomedia/internal/app"
	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/logger"
	"github.com/spf13/cobra"
)

func newRootCmd(cfg config.Config) *cobra.Command {
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "mediactl",
		Short:         "Maintenance commands for gomedia attachments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(newMigrateCmd(cfg))
	root.AddCommand(newFinalizeCmd(cfg, &jsonOutput))
	root.AddCommand(newResanitizeCmd(cfg, &jsonOutput))
	root.AddCommand(newRegenerateCmd(cfg, &jsonOutput))
	root.AddCommand(newSweepCmd(cfg))
	root.AddCommand(newTokenCmd(cfg))
	return root
}

// withApp builds the services for one command and closes them afterwards.
func withApp(cmd *cobra.Command, cfg config.Config, fn func(a *app.App) error) error {
	log, err := logger.Init()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}
