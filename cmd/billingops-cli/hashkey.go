package main

import (
	"fmt"

	"github.com/smallbiznis/billingops/internal/authorization"
	"github.com/spf13/cobra"
)

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [secret]",
		Short: "Print the argon2id form of an API key for use in API_KEYS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := authorization.EncodeAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Println(encoded)
			return nil
		},
	}
}
