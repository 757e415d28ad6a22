// Package main provides a CLI for the devportal server and the enrichment
// log stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/utils"
)

var (
	// Global flags
	serverURL string
	apiURL    string
	token     string
	orgID     string
	output    string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "devportal-cli",
		Short:        "Command-line client for the developer portal",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DEVPORTAL_SERVER_URL", "http://localhost:8080"), "Portal server URL")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("API_BASE_URL", "http://localhost:8000"), "Enrichment API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("DEVPORTAL_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", os.Getenv("DEVPORTAL_ORG_ID"), "Organization to act in")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format (text or json)")

	rootCmd.AddCommand(newLogsCmd(), newKeysCmd(), newIntegrationsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func credentials() auth.Credentials {
	return auth.Credentials{BearerToken: token, OrgID: orgID}
}

// portal calls the portal API and decodes the response into out
func portal(ctx context.Context, method string, out interface{}, body interface{}, segments ...string) error {
	if token == "" {
		return fmt.Errorf("a token is required (--token or DEVPORTAL_TOKEN)")
	}
	endpoint, err := utils.JoinURL(serverURL, append([]string{"api", "v1"}, segments...)...)
	if err != nil {
		return err
	}
	client := utils.NewHTTPClient(
		utils.WithTimeout(30*time.Second),
		utils.WithTokenSource(auth.StaticTokenSource(credentials())),
	)
	_, err = client.DoJSON(ctx, &utils.HTTPRequest{URL: endpoint, Method: method, Body: body}, out)
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool {
	return output == "json"
}
