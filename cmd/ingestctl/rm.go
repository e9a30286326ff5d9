package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/assetingest/cmd/ingest/service"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Short:   "Remove assets and their blobs",
	Aliases: []string{"delete"},
	Long: `Remove assets by id. The catalog record goes first; blobs that
cannot be deleted are handed to the orphan janitor.

Examples:
  ingestctl rm 3f2a9c0e5b7d4e1f8a6b2c3d4e5f6a7b`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	failed := 0
	for _, id := range args {
		err := appContainer.Pipeline.Remove(ctx, id)
		switch {
		case err == nil:
			fmt.Fprintln(out, formatSuccess("removed "+id))
		case errors.Is(err, service.ErrNotFound):
			failed++
			fmt.Fprintln(out, formatError(id+": not found"))
		default:
			failed++
			fmt.Fprintln(out, formatError(fmt.Sprintf("%s: %v", id, err)))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d removals failed", failed, len(args))
	}
	return nil
}
