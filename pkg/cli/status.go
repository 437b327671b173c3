package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpayne/fleetwatch/pkg/health"
)

func NewStatusCommand(root *RootCommand) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's health",
		Long:  "Query the status API of a running fleetwatch daemon and print its system health.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(root, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Status API address (default from config)")
	return cmd
}

func runStatus(root *RootCommand, addr string) error {
	listenAddr := root.Config().API.ListenAddr
	if addr != "" {
		listenAddr = addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/status", listenAddr))
	if err != nil {
		return fmt.Errorf("query daemon at %s: %w", listenAddr, err)
	}
	defer resp.Body.Close()

	var h health.SystemHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("decode status response: %w", err)
	}

	return PrintOutput(h, root.OutputOptions())
}
