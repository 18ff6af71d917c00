package main

import (
	"context"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/handoff/pkg/client"
)

const (
	defaultServer = "http://localhost:8000"
	envServer     = "HANDOFF_URL"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	server  string
	timeout time.Duration
	noColor bool
}

func (o *options) client() (*client.Client, error) {
	return client.New(o.server)
}

// requestContext bounds a single API call by --request-timeout.
func (o *options) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:     "handoffctl",
		Short:   "Operator CLI for the handoff escalation server",
		Version: version,
		Long: `handoffctl talks to a handoff server over HTTP. Operators use it to see
the pending queue, answer escalations and follow new ones as they arrive.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "handoff server base URL (env "+envServer+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "request-timeout", 30*time.Second, "timeout for a single API call")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	root.AddCommand(
		pendingCmd(opts),
		getCmd(opts),
		respondCmd(opts),
		insightCmd(opts),
		createCmd(opts),
		awaitCmd(opts),
		watchCmd(opts),
		tokenCmd(opts),
		instructionsCmd(opts),
	)
	return root
}
