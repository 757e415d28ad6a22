package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tcmartin/devportal/pkg/services"
	"github.com/tcmartin/devportal/pkg/storage"
)

func newKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var keys []storage.KeyMetadata
			if err := portal(cmd.Context(), http.MethodGet, &keys, nil, "keys"); err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(keys)
			}
			if len(keys) == 0 {
				fmt.Println("No API keys")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPREFIX\tCREATED")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s…\t%s\n", k.ID, k.Name, k.KeyPrefix, k.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key services.CreatedKey
			if err := portal(cmd.Context(), http.MethodPost, &key, map[string]string{"name": args[0]}, "keys"); err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(key)
			}
			fmt.Printf("Created key %s (%s)\n", key.Name, key.ID)
			fmt.Printf("Secret: %s\n", key.Secret)
			fmt.Println("Store the secret now, it will not be shown again.")
			return nil
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := portal(cmd.Context(), http.MethodDelete, nil, nil, "keys", args[0]); err != nil {
				return err
			}
			fmt.Printf("Revoked key %s\n", args[0])
			return nil
		},
	})

	return keysCmd
}
