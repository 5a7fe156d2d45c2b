package main

import (
	"fmt"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"

	"github.com/spf13/cobra"
)

func merchantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merchants",
		Short: "Manage merchant registrations",
	}

	cmd.AddCommand(merchantsImportCmd())
	cmd.AddCommand(merchantsListCmd())
	cmd.AddCommand(merchantsActiveCmd("deactivate", false))
	cmd.AddCommand(merchantsActiveCmd("activate", true))

	return cmd
}

func merchantsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [merchants.yaml]",
		Short: "Create or update merchants from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			merchants, err := common.LoadMerchantsFile(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			imported, err := common.ImportMerchants(cmd.Context(), s.db, merchants)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Imported %d merchant(s) from %s\n", imported, args[0])
			return nil
		},
	}
}

func merchantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered merchants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			merchants, err := s.db.ListMerchants(cmd.Context())
			if err != nil {
				return err
			}

			common.PrintHeader("MERCHANTS", common.WideWidth)
			active := 0
			for i, merchant := range merchants {
				if merchant.Active {
					active++
				}
				printMerchant(merchant, i == len(merchants)-1)
			}
			common.PrintFooter(fmt.Sprintf("SUMMARY: %d merchants (%d active)", len(merchants), active), common.WideWidth)
			return nil
		},
	}
}

func printMerchant(merchant models.Merchant, isLast bool) {
	state := "active"
	if !merchant.Active {
		state = "inactive"
	}
	target := merchant.ChatTarget
	if merchant.Channel == models.ChannelWebhook {
		target = merchant.WebhookUrl
	}
	fmt.Printf("%s%s  %-20s %-7s %-8s %s\n",
		common.BoxPrefix(isLast),
		merchant.Id,
		common.Truncate(merchant.Name, 20),
		merchant.Channel,
		state,
		target)
}

func merchantsActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [merchant-id]",
		Short: fmt.Sprintf("Mark a merchant %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			id := models.NormalizeMerchantId(args[0])
			if err := s.db.SetMerchantActive(cmd.Context(), id, active); err != nil {
				return err
			}
			fmt.Printf("✓ Merchant %s %sd\n", id, use)
			return nil
		},
	}
}
