package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/handoff/pkg/client"
	"github.com/MrWong99/handoff/pkg/escalation"
)

func pendingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "pending",
		Aliases: []string{"ls", "list"},
		Short:   "List pending escalations, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			list, err := c.ListPending(ctx)
			if err != nil {
				return fmt.Errorf("failed to list pending escalations: %w", err)
			}
			printPendingTable(cmd.OutOrStdout(), list, time.Now())
			return nil
		},
	}
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			rec, err := c.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get escalation %s: %w", args[0], err)
			}
			printEscalation(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

func respondCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "respond ID RESPONSE...",
		Short: "Answer a pending escalation",
		Long: `Resolve an escalation with the given response. The remaining arguments are
joined with spaces. If another operator answered first, their response is
shown and the command fails.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, response := args[0], strings.Join(args[1:], " ")
			if strings.TrimSpace(response) == "" {
				return fmt.Errorf("response must not be empty")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			rec, err := c.Respond(ctx, id, response)
			if winner, ok := client.IsConflict(err); ok {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s escalation %s was already resolved by another operator\n", yellow.Sprint("!"), id)
				if winner != nil {
					fmt.Fprintf(out, "  Response: %s\n", winner.Response)
				}
				return fmt.Errorf("escalation %s already resolved", id)
			}
			if err != nil {
				return fmt.Errorf("failed to respond to %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Resolved %s\n", green.Sprint("✓"), rec.ID)
			return nil
		},
	}
}

func insightCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "insight ID TEXT...",
		Short: "Attach or replace the insight text of an escalation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			rec, err := c.AttachInsight(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return fmt.Errorf("failed to attach insight to %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Insight attached to %s\n", green.Sprint("✓"), rec.ID)
			return nil
		},
	}
}

func createCmd(opts *options) *cobra.Command {
	var req escalation.Request
	var urgency string

	cmd := &cobra.Command{
		Use:   "create REASON...",
		Short: "Open an escalation as an agent would (useful for testing consoles)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := escalation.ParseUrgency(urgency)
			if err != nil {
				return err
			}
			req.Urgency = u
			req.Reason = strings.Join(args, " ")

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			id, err := c.Create(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create escalation: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created escalation %s\n", green.Sprint("✓"), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&urgency, "urgency", "u", "", "low, medium, high or critical (default medium)")
	cmd.Flags().StringVarP(&req.DecisionType, "decision-type", "d", "", "decision category")
	cmd.Flags().StringVar(&req.SessionRef, "session", "", "session reference")
	cmd.Flags().StringVar(&req.RequesterRef, "requester", "", "requester reference")
	cmd.Flags().StringVar(&req.ContextDetails, "details", "", "free-form context for the operator")
	return cmd
}

func awaitCmd(opts *options) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "await ID",
		Short: "Wait for an operator to answer an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out, err := c.Await(cmd.Context(), args[0], wait)
			if err != nil {
				return fmt.Errorf("failed to await %s: %w", args[0], err)
			}
			w := cmd.OutOrStdout()
			if !out.Resolved() {
				fmt.Fprintf(w, "%s No answer yet for %s\n", yellow.Sprint("…"), args[0])
				return nil
			}
			fmt.Fprintf(w, "%s %s\n", green.Sprint("Resolved:"), out.Response)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "how long to wait (server default when 0)")
	return cmd
}

func watchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow new, resolved and updated escalations live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return c.Watch(cmd.Context(), func(f client.Frame) error {
				if f.IsSnapshot() {
					printPendingTable(w, f.Snapshot, time.Now())
					fmt.Fprintln(w, faint.Sprint("-- watching for changes, Ctrl+C to stop --"))
					return nil
				}
				printEvent(w, f.Event)
				return nil
			})
		},
	}
}

func tokenCmd(opts *options) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token ROOM PARTICIPANT",
		Short: "Mint a LiveKit room join token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			tok, err := c.Token(ctx, args[0], args[1], userID)
			if err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "URL:   %s\n", tok.URL)
			fmt.Fprintf(w, "Token: %s\n", tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "stored as participant metadata")
	return cmd
}

func instructionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "instructions",
		Short: "Print the composed agent system prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			in, err := c.Instructions(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch instructions: %w", err)
			}
			w := cmd.OutOrStdout()
			color.New(color.Bold).Fprintln(w, in.Name)
			fmt.Fprintln(w, in.Instructions)
			fmt.Fprintf(w, "\nDecision types: %s\n", strings.Join(in.DecisionTypes, ", "))
			return nil
		},
	}
}
