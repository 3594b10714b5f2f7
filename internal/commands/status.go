package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banksia-harness/banksia/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running harness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the harness server")
	return cmd
}

func runStatus(addr string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(addr + "/status")
	if err != nil {
		return fmt.Errorf("querying harness: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("harness returned %s: %s", resp.Status, body)
	}

	var status types.RunnerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	bold := color.New(color.Bold)
	if status.TestProcedureName == "" {
		fmt.Println(status.StatusSummary)
		return nil
	}

	_, _ = bold.Printf("Test Procedure: %s\n", status.TestProcedureName)
	fmt.Printf("  Summary: %s\n", status.StatusSummary)
	fmt.Println()

	for _, step := range status.Steps {
		switch step.Status {
		case types.StepResolved:
			color.Green("  ✓ %s", step.Name)
		case types.StepActive:
			color.Yellow("  ▶ %s", step.Name)
		default:
			fmt.Printf("    %s\n", step.Name)
		}
	}

	if len(status.CheckResults) > 0 {
		fmt.Println()
		_, _ = bold.Println("Criteria:")
		for name, result := range status.CheckResults {
			if result.Passed {
				color.Green("  ✓ %s", name)
			} else {
				color.Red("  ✗ %s: %s", name, result.Description)
			}
		}
	}

	if len(status.RequestHistory) > 0 {
		fmt.Printf("\n%d requests observed, last at %s\n",
			len(status.RequestHistory),
			status.RequestHistory[len(status.RequestHistory)-1].Timestamp.Format(time.RFC3339))
	}
	return nil
}
