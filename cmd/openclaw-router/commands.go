package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/config"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/router"
)

func newRouteCmd(opts *globalOptions) *cobra.Command {
	var req domain.RouteRequest
	cmd := &cobra.Command{
		Use:   "route [message]",
		Short: "Route one message and print the decision as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer e.shutdown()

			rt, err := buildRuntime(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			req.Message = strings.Join(args, " ")
			d, err := rt.router.Route(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), d)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.CallerID, "user", "", "Caller id recorded in the audit log")
	f.StringVar(&req.Context.Channel, "channel", "", "Originating channel (slack, discord, ...)")
	f.StringVar(&req.Context.ChannelTopic, "topic", "", "Slack channel topic")
	f.StringVar(&req.Context.ChannelCategory, "category", "", "Discord channel category")
	return cmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var (
		since  time.Duration
		top    int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-agent routing statistics from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer e.shutdown()
			if !e.cfg.Audit.Enabled {
				return errors.New("audit log is disabled in config")
			}
			if e.cfg.Audit.Sink == "memory" {
				e.logger.Warn("audit sink is in-memory; stats cover this process only")
			}

			rt, err := buildRuntime(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			s, err := rt.router.Stats(ctx, since)
			if err != nil {
				return err
			}
			if top > 0 && len(s.Agents) > top {
				s.Agents = s.Agents[:top]
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			return printStats(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window to aggregate over; 0 for everything retained")
	cmd.Flags().IntVar(&top, "top", 0, "Show only the N busiest agents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printStats(w io.Writer, s router.Stats) error {
	if len(s.Agents) == 0 {
		_, err := fmt.Fprintln(w, "No routing decisions recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tCOUNT\tCACHED\tAVG CONFIDENCE\tAVG LATENCY\tTOTAL COST")
	for _, a := range s.Agents {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2fms\t$%.4f\n",
			a.AgentID, a.Count, a.CachedCount, a.AvgConfidence, a.AvgLatencyMS, a.TotalEstimatedCost)
	}
	return tw.Flush()
}

func newAgentsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agents the registry would load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer e.shutdown()

			reg, err := initRegistry(e.cfg.Registry, e.logger)
			if err != nil {
				return err
			}
			res := reg.Load(ctx)
			snap := res.Snapshot
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snap.Statuses())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source: %s (%s)\n", snap.Source(), snap.Status())
			if res.Fallback() {
				fmt.Fprintf(out, "reason: %s\n", res.Reason)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROLE\tENABLED\tSKILL FILES")
			for _, a := range snap.Statuses() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", a.ID, a.Name, a.Role, a.Enabled, a.SkillFiles)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use as an enc: config value",
		Long: "Encrypts value (or the first line of stdin) with the passphrase in OPENCLAW_CONFIG_KEY.\n" +
			"Paste the output into the config, for example as cache.redis.password.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("OPENCLAW_CONFIG_KEY")
			if passphrase == "" {
				return errors.New("OPENCLAW_CONFIG_KEY must be set")
			}
			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read stdin: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("nothing to encrypt")
			}
			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enc:%s\n", enc)
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
