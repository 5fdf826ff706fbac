package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"TlockAuction/client"
	"TlockAuction/internal/api"
	"TlockAuction/internal/auction"
)

func newSealCmd() *cobra.Command {
	var (
		nodeAddr    string
		auctionID   string
		participant string
		amount      uint64
		memo        string
		submit      bool
	)

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Seal a bid for an auction and optionally submit it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			who, err := auction.ParseAccountID(participant)
			if err != nil {
				return fmt.Errorf("parse participant:\n%w", err)
			}

			ctx := cmd.Context()
			c := client.New(nodeAddr)

			pp, err := c.Params(ctx)
			if err != nil {
				return err
			}

			view, err := c.Auction(ctx, auctionID)
			if err != nil {
				return err
			}

			p, err := client.SealBidFor(pp, view, amount, memo)
			if err != nil {
				return fmt.Errorf("seal bid:\n%w", err)
			}

			if submit {
				if err := c.Propose(ctx, auctionID, who, p); err != nil {
					return err
				}

				fmt.Fprintf(os.Stderr, "proposal submitted to %s\n", auctionID)

				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(api.ProposalRequest{Participant: who, Proposal: p})
		},
	}

	f := cmd.Flags()
	f.StringVar(&nodeAddr, "node", "127.0.0.1:8080", "node HTTP address")
	f.StringVar(&auctionID, "auction", "", "auction id")
	f.StringVar(&participant, "participant", "", "hex participant account")
	f.Uint64Var(&amount, "amount", 0, "bid amount")
	f.StringVar(&memo, "memo", "", "free-form memo sealed with the bid")
	f.BoolVar(&submit, "submit", false, "submit the proposal instead of printing it")

	cmd.MarkFlagRequired("auction")
	cmd.MarkFlagRequired("participant")

	return cmd
}
