package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/boardsticker/internal/state"
	"github.com/user/boardsticker/internal/types"
)

var (
	setsUserID int64
	setsLimit  int
)

func init() {
	setsListCmd.Flags().Int64Var(&setsUserID, "user", 0, "Only show sets owned by this Telegram user ID")
	setsListCmd.Flags().IntVar(&setsLimit, "limit", 20, "Maximum number of sets to show (0 for all)")
	setsCmd.AddCommand(setsListCmd)
	rootCmd.AddCommand(setsCmd)
}

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "Inspect created sticker sets",
}

var setsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sticker sets from the local history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := state.OpenSetStore(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("open set history: %w", err)
		}
		defer store.Close()

		ctx := context.Background()
		var recs []*types.SetRecord
		if setsUserID != 0 {
			recs, err = store.ListByUser(ctx, setsUserID, setsLimit)
		} else {
			recs, err = store.List(ctx, setsLimit)
		}
		if err != nil {
			return fmt.Errorf("list sets: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(recs) == 0 {
			fmt.Fprintln(out, "No sticker sets recorded.")
			return nil
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Name", "Status", "Stickers", "Skipped", "Created", "URL"},
			setRows(recs),
			2, 3,
		))
		return nil
	},
}

func setRows(recs []*types.SetRecord) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		url := types.SetURL(rec.Name)
		if rec.Status == types.SetStatusDeleted {
			url = "-"
		}
		rows = append(rows, []string{
			rec.Name,
			string(rec.Status),
			strconv.Itoa(rec.Stickers),
			strconv.Itoa(rec.Skipped),
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			url,
		})
	}
	return rows
}
