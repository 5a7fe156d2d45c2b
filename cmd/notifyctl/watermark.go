package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func watermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Show the last fully processed block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			block, ok, err := s.db.GetWatermark(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("No watermark stored, the notifier will start at block %d\n", s.cfg.Feed.StartBlock)
				return nil
			}
			fmt.Printf("Watermark: block %d\n", block)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [block]",
		Short: "Overwrite the watermark, e.g. to replay from an earlier block",
		Long: "Overwrite the watermark. Moving it backwards replays events; " +
			"deliveries already recorded are not sent again. Stop the notifier first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || block < 0 {
				return fmt.Errorf("invalid block number %q", args[0])
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.db.SetWatermark(cmd.Context(), block); err != nil {
				return err
			}
			fmt.Printf("✓ Watermark set to block %d\n", block)
			return nil
		},
	})

	return cmd
}
