package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/zkrelay/db"
	"github.com/ethpandaops/zkrelay/dbtypes"
	"github.com/ethpandaops/zkrelay/replay/types"
)

var payoutsCmd = &cobra.Command{
	Use:   "payouts",
	Short: "Inspect the sql payout journal",
}

var payoutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journal entries, newest first",
	RunE:  runPayoutsList,
}

func init() {
	payoutsListCmd.Flags().String("state", "", "Only list entries in this state (pending, paid, unconfirmed)")
	payoutsListCmd.Flags().Uint64("offset", 0, "Number of entries to skip")
	payoutsListCmd.Flags().Uint32("limit", 50, "Maximum number of entries")

	payoutsCmd.AddCommand(payoutsListCmd)
	rootCmd.AddCommand(payoutsCmd)
}

func parsePayoutState(state string) (*dbtypes.PayoutState, error) {
	for _, s := range []types.State{types.StatePending, types.StatePaid, types.StateUnconfirmed} {
		if s.String() == state {
			payoutState := dbtypes.PayoutState(s)
			return &payoutState, nil
		}
	}
	return nil, fmt.Errorf("unknown payout state: %v", state)
}

func runPayoutsList(cmd *cobra.Command, args []string) error {
	cfg, logWriter, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	filter := &dbtypes.PayoutFilter{}
	if state, _ := cmd.Flags().GetString("state"); state != "" {
		if filter.State, err = parsePayoutState(state); err != nil {
			return err
		}
	}
	offset, _ := cmd.Flags().GetUint64("offset")
	limit, _ := cmd.Flags().GetUint32("limit")

	if err := db.InitDB(&cfg.Database); err != nil {
		return err
	}
	defer db.MustCloseDB()
	if err := db.ApplyEmbeddedDbSchema(db.SchemaLatest); err != nil {
		return err
	}

	payouts, err := db.GetPayouts(cmd.Context(), filter, offset, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tSTATE\tRECIPIENT\tAMOUNT\tTX\tUPDATED")
	for _, payout := range payouts {
		txHash := "-"
		if len(payout.TxHash) > 0 {
			txHash = hexutil.Encode(payout.TxHash)
		}
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			hexutil.Encode(payout.Fingerprint),
			types.State(payout.State),
			payout.Recipient,
			payout.Amount,
			txHash,
			time.Unix(payout.UpdatedAt, 0).UTC().Format(time.RFC3339),
		)
	}
	return w.Flush()
}
