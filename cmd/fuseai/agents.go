package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aircode610/fuseai/pkg/client"
)

type apiFlags struct {
	url     string
	timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "api-url", "http://127.0.0.1:8000", "daemon API base URL")
	cmd.PersistentFlags().DurationVar(&f.timeout, "api-timeout", 30*time.Second, "API request timeout")
}

func (f *apiFlags) client(ctx context.Context) (*client.Client, error) {
	c := client.New(client.Config{BaseURL: f.url, Timeout: f.timeout})
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s, start it first with 'fuseai serve'", f.url)
	}
	return c, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newAgentsCmd() *cobra.Command {
	flags := &apiFlags{}
	root := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and control agents on a running daemon",
	}
	flags.register(root)

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(agents)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			a, err := c.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(a)
			return nil
		},
	})

	var deployPort int
	deploy := &cobra.Command{
		Use:   "deploy <id>",
		Short: "Start or restart an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			a, err := c.DeployAgent(cmd.Context(), args[0], deployPort)
			if err != nil {
				return err
			}
			printJSON(a)
			return nil
		},
	}
	deploy.Flags().IntVar(&deployPort, "port", 0, "explicit port to deploy on")
	root.AddCommand(deploy)

	root.AddCommand(&cobra.Command{
		Use:   "stop <id>",
		Short: "Stop an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			a, err := c.StopAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(a)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Stop an agent and remove everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Agent removed")
			return nil
		},
	})

	var testMethod, testPath, testBody string
	test := &cobra.Command{
		Use:   "test <id>",
		Short: "Proxy a test call to a deployed agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			req := client.TestRequest{Method: testMethod, Path: testPath}
			if testBody != "" {
				var body any
				if err := json.Unmarshal([]byte(testBody), &body); err != nil {
					return fmt.Errorf("invalid --body JSON: %w", err)
				}
				req.Body = body
			}
			res, err := c.TestAgent(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	test.Flags().StringVar(&testMethod, "method", "GET", "HTTP method")
	test.Flags().StringVar(&testPath, "path", "/", "request path on the agent")
	test.Flags().StringVar(&testBody, "body", "", "JSON request body")
	root.AddCommand(test)

	var logLevel string
	var logLimit int
	logs := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show operator log entries for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := c.GetLogs(cmd.Context(), args[0], logLevel, logLimit)
			if err != nil {
				return err
			}
			printJSON(entries)
			return nil
		},
	}
	logs.Flags().StringVar(&logLevel, "level", "", "filter by level (info, error)")
	logs.Flags().IntVar(&logLimit, "limit", 0, "maximum entries to return")
	root.AddCommand(logs)

	root.AddCommand(&cobra.Command{
		Use:   "metrics <id>",
		Short: "Show aggregated call metrics for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(cmd.Context())
			if err != nil {
				return err
			}
			m, err := c.GetMetrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(m)
			return nil
		},
	})

	return root
}
