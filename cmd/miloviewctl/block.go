package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miloview/miloview/internal/block"
)

func blockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <number>",
		Short: "Block a number so its messages are partitioned away and auto-replied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postBlockAction(args[0], block.ActionBlock)
		},
	}
}

func unblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <number>",
		Short: "Remove a number from the blocklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postBlockAction(args[0], block.ActionUnblock)
		},
	}
}

func postBlockAction(number, action string) error {
	var out struct {
		PhoneNumber    string   `json:"phoneNumber"`
		BlockedNumbers []string `json:"blockedNumbers"`
	}
	err := apiPost("/api/block-number", map[string]string{
		"phoneNumber": number,
		"action":      action,
	}, &out)
	if err != nil {
		return err
	}
	fmt.Printf("%sed %s (%d blocked)\n", action, out.PhoneNumber, len(out.BlockedNumbers))
	return nil
}

func blockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List blocked numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				BlockedNumbers []string `json:"blockedNumbers"`
			}
			if err := apiGet("/api/blocked-numbers", &out); err != nil {
				return err
			}
			if len(out.BlockedNumbers) == 0 {
				fmt.Println("no blocked numbers")
				return nil
			}
			for _, n := range out.BlockedNumbers {
				fmt.Println(n)
			}
			return nil
		},
	}
}
