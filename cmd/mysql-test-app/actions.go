package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const defaultAgentURL = "http://127.0.0.1:8474"

// actionClient invokes operator actions against a running agent.
type actionClient struct {
	base string
	http *http.Client
}

func newActionClient(base string) *actionClient {
	return &actionClient{
		base: base,
		http: &http.Client{Timeout: time.Minute},
	}
}

func (c *actionClient) call(method string, path string, reqBody any) (map[string]any, error) {
	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("action failed: %v", result["error"])
	}
	return result, nil
}

// newActionCommands returns one subcommand per operator action. Each prints a
// single scalar result, matching what external test assertions expect.
func newActionCommands() []*cobra.Command {
	var agentURL string
	var interval time.Duration

	withAgentURL := func(cmd *cobra.Command) *cobra.Command {
		cmd.Flags().StringVar(&agentURL, "agent-url", defaultAgentURL, "base URL of the agent's action API")
		return cmd
	}

	start := &cobra.Command{
		Use:   "start-continuous-writes",
		Short: "Start the continuous write loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if interval > 0 {
				body = map[string]string{"interval": interval.String()}
			}
			_, err := newActionClient(agentURL).call(http.MethodPost, "/v1/continuous-writes/start", body)
			return err
		},
	}
	start.Flags().DurationVar(&interval, "interval", 0, "write cadence (agent default when omitted)")

	stop := &cobra.Command{
		Use:   "stop-continuous-writes",
		Short: "Stop the continuous write loop and print the number of writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newActionClient(agentURL).call(http.MethodPost, "/v1/continuous-writes/stop", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatNumber(result["writes"]))
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear-continuous-writes",
		Short: "Delete all written rows and reset the counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := newActionClient(agentURL).call(http.MethodPost, "/v1/continuous-writes/clear", nil)
			return err
		},
	}

	lastWritten := &cobra.Command{
		Use:   "get-last-written-value",
		Short: "Print the value the writer last confirmed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newActionClient(agentURL).call(http.MethodGet, "/v1/continuous-writes/last-written", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatNumber(result["value"]))
			return nil
		},
	}

	count := &cobra.Command{
		Use:   "count-written-values",
		Short: "Print the number of rows in the continuous writes table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newActionClient(agentURL).call(http.MethodGet, "/v1/continuous-writes/count", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatNumber(result["count"]))
			return nil
		},
	}

	state := &cobra.Command{
		Use:   "get-state",
		Short: "Print the application state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newActionClient(agentURL).call(http.MethodGet, "/v1/state", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result["state"])
			return nil
		},
	}

	writeRandom := &cobra.Command{
		Use:   "write-random-value",
		Short: "Write a random value to the database and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newActionClient(agentURL).call(http.MethodPost, "/v1/random-value", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result["value"])
			return nil
		},
	}

	insertedData := &cobra.Command{
		Use:   "get-inserted-data",
		Short: "Print the last random value written to the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newActionClient(agentURL).call(http.MethodGet, "/v1/random-value", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result["value"])
			return nil
		},
	}

	cmds := []*cobra.Command{start, stop, clear, lastWritten, count, state, writeRandom, insertedData}
	for _, cmd := range cmds {
		withAgentURL(cmd)
	}
	return cmds
}

// formatNumber renders a JSON number without a decimal point.
func formatNumber(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
