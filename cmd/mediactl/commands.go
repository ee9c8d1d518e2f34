package main

import (
	"fmt"
	"time"

	"github.com/abduss/gomedia/internal/app"
	"github.com/abduss/gomedia/internal/attachment"
	"github.com/abduss/gomedia/internal/auth"
	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMigrateCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(a *app.App) error {
				return storage.Migrate(cmd.Context(), a.DB, a.Log)
			})
		},
	}
}

func newFinalizeCmd(cfg config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <attachment-id> <staged-file>",
		Short: "Finalize an in-progress attachment from its staged file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, cfg, func(a *app.App) error {
				if err := a.Attachments.FinalizeCreation(cmd.Context(), id, args[1]); err != nil {
					return err
				}
				return showAttachment(cmd, a, id, *jsonOutput)
			})
		},
	}
}

func newResanitizeCmd(cfg config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "resanitize <attachment-id>...",
		Short: "Strip metadata from stored originals sanitized under an older policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachID(cmd, cfg, args, *jsonOutput, func(a *app.App, id uuid.UUID) (attachment.Attachment, error) {
				return a.Attachments.Resanitize(cmd.Context(), id)
			})
		},
	}
}

func newRegenerateCmd(cfg config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <attachment-id>...",
		Short: "Render previews again with the current bounds and presets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachID(cmd, cfg, args, *jsonOutput, func(a *app.App, id uuid.UUID) (attachment.Attachment, error) {
				return a.Attachments.RegeneratePreviews(cmd.Context(), id)
			})
		},
	}
}

func newSweepCmd(cfg config.Config) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale staged files and release stuck jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be > 0")
			}
			return withApp(cmd, cfg, func(a *app.App) error {
				removed, err := a.Attachments.SweepTemp(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				released, err := a.Queue.RecoverStuck(cmd.Context(), cfg.Worker.StuckAfter)
				if err != nil {
					return err
				}
				return writePlain("removed %d temp files, released %d stuck jobs\n", removed, released)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", cfg.Worker.TempMaxAge, "remove staged files older than this")
	return cmd
}

func newTokenCmd(cfg config.Config) *cobra.Command {
	var (
		email string
		admin bool
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			token, expiresAt, err := auth.NewService(cfg.Auth).IssueAccessToken(id, email, admin, ttl)
			if err != nil {
				return err
			}
			return writePlain("%s\n# expires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: configured access token TTL)")
	return cmd
}

func forEachID(cmd *cobra.Command, cfg config.Config, args []string, jsonOutput bool, fn func(a *app.App, id uuid.UUID) (attachment.Attachment, error)) error {
	ids := make([]uuid.UUID, 0, len(args))
	for _, raw := range args {
		id, err := parseID(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return withApp(cmd, cfg, func(a *app.App) error {
		for _, id := range ids {
			att, err := fn(a, id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			if err := printAttachment(att, jsonOutput); err != nil {
				return err
			}
		}
		return nil
	})
}

func showAttachment(cmd *cobra.Command, a *app.App, id uuid.UUID, jsonOutput bool) error {
	att, err := a.Attachments.Get(cmd.Context(), id, attachment.Requester{Admin: true})
	if err != nil {
		return err
	}
	return printAttachment(att, jsonOutput)
}

func printAttachment(att attachment.Attachment, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(att)
	}
	return writePlain("%s  %-7s  %-24s  sanitized=%d  variants=%d\n",
		att.ID, att.MediaType, att.MimeType, att.Sanitized, len(att.Previews.Variants()))
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
