package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lyzr/assetingest/cmd/ingest/service"
	"github.com/lyzr/assetingest/common/models"
)

var (
	listLimit int
	listName  string
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List cataloged assets, newest first",
	Aliases: []string{"ls"},
	Long: `List cataloged assets, newest first.

Examples:
  ingestctl list
  ingestctl list --limit 10
  ingestctl list --name holiday
  ingestctl ls --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum number of assets (0 selects the service default)")
	listCmd.Flags().StringVarP(&listName, "name", "q", "", "Only assets whose original name contains this text")
}

func runList(cmd *cobra.Command, args []string) error {
	assets, err := appContainer.Pipeline.List(cmd.Context(), service.ListQuery{Limit: listLimit, Name: listName})
	if err != nil {
		return err
	}
	return printAssets(cmd.OutOrStdout(), assets)
}

func printAssets(w io.Writer, assets []*models.Asset) error {
	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"assets": assets})
	}

	if len(assets) == 0 {
		fmt.Fprintln(w, formatMuted("No assets."))
		return nil
	}

	rows := make([][]string, 0, len(assets))
	for _, a := range assets {
		dims := "-"
		if a.HasDimensions() {
			dims = strconv.Itoa(*a.Width) + "x" + strconv.Itoa(*a.Height)
		}
		rows = append(rows, []string{
			a.ID,
			a.OriginalName,
			humanBytes(a.SizeBytes),
			dims,
			a.URL,
			a.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}

	fmt.Fprintln(w, renderTable([]string{"ID", "NAME", "SIZE", "DIMENSIONS", "URL", "CREATED"}, rows))
	return nil
}
