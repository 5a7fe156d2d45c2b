package main

import (
	"fmt"
	"time"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"

	"github.com/spf13/cobra"
)

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List deliveries that exhausted their retries or were rejected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.db.ListDeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}

			common.PrintHeader("DEAD LETTERS", common.WideWidth)
			for i, record := range records {
				printDeadLetter(record, i == len(records)-1)
			}
			common.PrintFooter(fmt.Sprintf("SUMMARY: %d dead letter(s)", len(records)), common.WideWidth)
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 50, "Maximum records")

	return cmd
}

func printDeadLetter(record models.DeliveryRecord, isLast bool) {
	fmt.Printf("%s%s  %-9s %-7s attempts=%d code=%d last=%s\n",
		common.BoxPrefix(isLast),
		record.Id,
		record.Status,
		record.Channel,
		record.AttemptCount,
		record.ResponseCode,
		common.FormatOptionalTime(record.LastAttemptedAt))
	fmt.Printf("%s  event %s  merchant %s\n",
		common.BoxDetailPrefix(isLast),
		common.ShortId(record.EventId),
		common.ShortAddress(record.MerchantId))
	if record.ResponseBody != "" {
		fmt.Printf("%s  %s\n", common.BoxDetailPrefix(isLast), common.Truncate(record.ResponseBody, 120))
	}
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [delivery-id]",
		Short: "Give a dead-lettered delivery one more attempt on the next sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.db.Requeue(cmd.Context(), args[0], time.Now()); err != nil {
				return err
			}
			fmt.Printf("✓ Delivery %s requeued\n", args[0])
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery counts by status and the ingestion watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.db.GetDeliveryStats(cmd.Context())
			if err != nil {
				return err
			}
			watermark, ok, err := s.db.GetWatermark(cmd.Context())
			if err != nil {
				return err
			}

			common.PrintHeader("DELIVERY STATS", common.DefaultWidth)
			if ok {
				fmt.Printf("Watermark: block %d\n", watermark)
			} else {
				fmt.Println("Watermark: not set")
			}
			rows := []struct {
				label string
				count int
			}{
				{"sending", stats.Sending},
				{"delivered", stats.Delivered},
				{"retrying", stats.Retrying},
				{"exhausted", stats.Exhausted},
				{"rejected", stats.Rejected},
			}
			for i, row := range rows {
				fmt.Printf("%s%-10s %d\n", common.BoxPrefix(i == len(rows)-1), row.label, row.count)
			}
			common.PrintFooter(fmt.Sprintf("SUMMARY: %d deliveries recorded", stats.Total), common.DefaultWidth)
			return nil
		},
	}
}
