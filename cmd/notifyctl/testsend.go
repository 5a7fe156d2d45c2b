package main

import (
	"fmt"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/notify"
	"payment-notify-go/internal/sender"

	"github.com/spf13/cobra"
)

func testSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-send [merchant-id]",
		Short: "Send a synthetic payment notification to one merchant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			tokens, err := common.LoadTokenRegistry(s.cfg.Delivery.TokensFile)
			if err != nil {
				return fmt.Errorf("failed to load token registry: %w", err)
			}
			senders, _, err := sender.NewRegistry(s.cfg, tokens)
			if err != nil {
				return err
			}

			router := notify.NewRouter(notify.RouterConfig{
				Store:      s.db,
				Senders:    senders,
				Ladder:     notify.Ladder(s.cfg.Delivery.RetryDelays),
				ClaimLease: s.cfg.Delivery.ClaimLease,
			})

			outcome, event, err := router.SendTest(ctx, args[0])
			if err != nil {
				return err
			}

			symbol := "✓"
			if outcome != notify.OutcomeDelivered {
				symbol = "✗"
			}
			fmt.Printf("%s Test notification %s to %s: %s\n", symbol, event.EventId, event.MerchantId, outcome)
			if outcome == notify.OutcomeRetryScheduled {
				fmt.Println("  The running notifier will retry it; see `notifyctl dead-letters` if it never lands.")
			}
			return nil
		},
	}
}
