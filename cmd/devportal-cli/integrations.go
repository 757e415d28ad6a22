package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tcmartin/devportal/pkg/api"
	"github.com/tcmartin/devportal/pkg/crm"
)

func newIntegrationsCmd() *cobra.Command {
	integrationsCmd := &cobra.Command{
		Use:   "integrations",
		Short: "Inspect CRM integrations",
	}

	integrationsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured integrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.IntegrationListResponse
			if err := portal(cmd.Context(), http.MethodGet, &resp, nil, "integrations"); err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(resp)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tNAME\tSTATUS")
			for _, i := range resp.Integrations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", i.ID, i.Provider, i.Name, i.Status)
			}
			return w.Flush()
		},
	})

	var fields map[string]string
	testCmd := &cobra.Command{
		Use:   "test <provider>",
		Short: "Test CRM credentials without saving them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := crm.ParseProvider(args[0])
			if err != nil {
				return fmt.Errorf("%w (supported: %s)", err, supportedProviders())
			}
			req := api.TestIntegrationRequest{Credentials: crm.Credentials(fields)}
			if err := req.Credentials.Validate(provider); err != nil {
				return fmt.Errorf("%w (required: %s)", err, strings.Join(provider.RequiredFields(), ", "))
			}

			var result crm.ConnectionResult
			if err := portal(cmd.Context(), http.MethodPost, &result, req, "integrations", string(provider), "test"); err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(result)
			}
			if result.Success {
				fmt.Printf("%s: connected in %dms\n", provider, result.LatencyMs)
				return nil
			}
			return fmt.Errorf("%s: connection failed: %s", provider, result.Message)
		},
	}
	testCmd.Flags().StringToStringVarP(&fields, "credential", "c", nil, "Credential field as name=value (repeatable)")
	integrationsCmd.AddCommand(testCmd)

	return integrationsCmd
}

func supportedProviders() string {
	names := make([]string, 0, len(crm.Providers()))
	for _, p := range crm.Providers() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
