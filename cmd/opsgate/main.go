// Opsgate is the operator CLI for a running gateway.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bturcanu/OpsGate/pkg/config"
	"github.com/bturcanu/OpsGate/pkg/safety"
	"github.com/bturcanu/OpsGate/pkg/sdk/client"
	"github.com/bturcanu/OpsGate/pkg/types"
)

type rootOptions struct {
	url    string
	apiKey string
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.url, o.apiKey)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "opsgate",
		Short:         "opsgate - tool orchestration and safety gateway CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", config.EnvOr("OPSGATE_URL", "http://localhost:8080"), "Gateway base URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("OPSGATE_API_KEY"), "API key sent as X-API-Key")

	root.AddCommand(newToolsCmd(opts), newConnectorsCmd(opts), newInvokeCmd(opts), newCheckIntentCmd())
	return root
}

func newToolsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the gateway's tool catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools, err := opts.client().Tools(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSAFETY\tBACKEND\tARGUMENTS")
			for _, d := range tools {
				backend := d.Backend
				if d.Composite {
					backend = "composite(" + strings.Join(d.Components, ",") + ")"
				}
				names := make([]string, 0, len(d.Args))
				for _, a := range d.Args {
					n := a.Name
					if a.Required {
						n += "*"
					}
					names = append(names, n)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.SafetyClass, backend, strings.Join(names, " "))
			}
			return tw.Flush()
		},
	}
}

func newConnectorsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "Show connector health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snaps, err := opts.client().Connectors(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTATE\tLAST ERROR")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.State, s.LastError)
			}
			return tw.Flush()
		},
	}
}

func newInvokeCmd(opts *rootOptions) *cobra.Command {
	var (
		argsJSON   string
		consent    bool
		sourceText string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke one tool and print the result envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.Request{
				Tool:       args[0],
				Consent:    consent,
				SourceText: sourceText,
				TimeoutMS:  timeout.Milliseconds(),
			}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &req.Arguments); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}
			env, err := opts.client().Invoke(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(env); err != nil {
				return err
			}
			if env.Error != nil && env.Error.Kind == types.KindConsentRequired {
				fmt.Fprintln(cmd.ErrOrStderr(), "hint: re-run with --consent to allow this operation")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&argsJSON, "args", "a", "", `Tool arguments as a JSON object, e.g. '{"service_code":"AmazonEC2"}'`)
	cmd.Flags().BoolVar(&consent, "consent", false, "Explicitly consent to a state-changing operation")
	cmd.Flags().StringVar(&sourceText, "source-text", "", "Original request text, scanned for dangerous intent")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Invocation deadline (default: gateway default)")
	return cmd
}

func newCheckIntentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-intent <text>",
		Short: "Scan text for dangerous intent locally, without calling the gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := safety.NewClassifier().Scan(strings.Join(args, " "))
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no dangerous intent detected")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dangerous intent: %q\n", m.Phrase)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
