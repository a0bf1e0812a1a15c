package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/identity"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyPeer  string
	historyClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list past transfers",
	Long:  `list transfers recorded in the history database, newest first`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		gormDB, err := db.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer db.Close(gormDB)

		ts := store.NewTransferStore(gormDB)
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if historyClear {
			n, err := ts.DeleteTransfers(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d transfers\n", n)
			return nil
		}

		var records []db.TransferRecord
		if historyPeer != "" {
			records, err = ts.GetTransfersByPeer(ctx, identity.Normalize(historyPeer))
		} else {
			records, err = ts.GetTransfers(ctx, historyLimit)
		}
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Started", "Direction", "Peer", "File", "Size", "State", "Error"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		for _, r := range records {
			table.Append([]string{
				time.Unix(r.StartedAt, 0).Format(time.DateTime),
				r.Direction, r.Peer, r.FileName, strconv.FormatInt(r.Size, 10), r.State, r.Error,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of transfers to list")
	historyCmd.Flags().StringVar(&historyPeer, "peer", "", "only list transfers with this peer")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete all recorded transfers")
}
