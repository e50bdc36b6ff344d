package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"AlertGate/internal/domain/models"
	xhttp "AlertGate/pkg/http"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func roundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "round",
		Short: "Run a detection round now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rep models.RoundReport
			if err := client().call(cmd.Context(), xhttp.MethodPost, "/api/rounds", nil, nil, &rep); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(out, rep)
			}
			fmt.Fprintf(out, "round took %s (cache hit: %t, sources: %d)\n", rep.Duration.Round(time.Millisecond), rep.CacheHit, len(rep.Sources))
			if rep.Insufficient {
				fmt.Fprintln(out, "insufficient data, no detection ran")
			}
			for _, se := range rep.SourceErrors {
				fmt.Fprintf(out, "source %s failed: %s\n", se.Source, se.Message)
			}
			tw := table(out)
			fmt.Fprintln(tw, "STRATEGY\tTIER\tCONF\tSCORE\tDIR\tOUTCOME")
			for _, c := range rep.Candidates {
				outcome := "accepted"
				if reason, ok := rep.Suppressed[c.Strategy]; ok {
					outcome = "suppressed: " + reason
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%s\t%s\n", c.Strategy, c.Tier, c.Confidence, c.Score, c.Direction, outcome)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "enqueued %d\n", rep.Enqueued)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue, dedup and stream statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st models.Stats
			q := url.Values{"days": {strconv.Itoa(days)}}
			if err := client().call(cmd.Context(), xhttp.MethodGet, "/api/stats", q, nil, &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(out, st)
			}
			if st.Halted {
				fmt.Fprintf(out, "EMISSION HALTED: %s\n", st.HaltReason)
			}
			fmt.Fprintf(out, "queue: pending=%d in_flight=%d sent=%d failed=%d\n",
				st.Queue.Pending, st.Queue.InFlight, st.Queue.Sent, st.Queue.Failed)
			fmt.Fprintf(out, "alerts: last_hour=%d last_day=%d suppressed_today=%d\n",
				st.Recent.LastHour, st.Recent.LastDay, st.SuppressedDay)
			fmt.Fprintf(out, "model: trained=%t samples=%d\n", st.ModelTrained, st.ModelSamples)
			if st.Effectiveness != nil {
				fmt.Fprintf(out, "effectiveness: %d/%d actionable (%.0f%%)\n",
					st.Effectiveness.Actionable, st.Effectiveness.Total, st.Effectiveness.ActionableRate*100)
			}
			tw := table(out)
			fmt.Fprintln(tw, "DATE\tT1\tT2\tT3\tSUPPRESSED")
			for _, d := range st.Daily {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", d.Date, d.Tier1, d.Tier2, d.Tier3, d.Suppressed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days of history (1-90)")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset STRATEGY",
		Short: "Clear a strategy's cooldown so it may alert again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/strategies/" + url.PathEscape(args[0])
			if err := client().call(cmd.Context(), xhttp.MethodDelete, path, nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %q\n", args[0])
			return nil
		},
	}
}

func failedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List quarantined deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var entries []models.QueueEntry
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if err := client().call(cmd.Context(), xhttp.MethodGet, "/api/queue/failed", q, nil, &entries); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(out, entries)
			}
			tw := table(out)
			fmt.Fprintln(tw, "ID\tSTRATEGY\tRETRIES\tENQUEUED\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.ID, e.Unit.Strategy(), e.RetryCount,
					e.EnqueuedAt.Format(time.RFC3339), e.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries (1-500)")
	return cmd
}

func outcomeCmd() *cobra.Command {
	var actionable bool
	cmd := &cobra.Command{
		Use:   "outcome CANDIDATE_ID",
		Short: "Record whether an alert turned out actionable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := models.OutcomeRequest{CandidateID: args[0], Actionable: &actionable}
			if err := client().call(cmd.Context(), xhttp.MethodPost, "/api/outcomes", nil, body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s actionable=%t\n", args[0], actionable)
			return nil
		},
	}
	cmd.Flags().BoolVar(&actionable, "actionable", true, "whether the alert was actionable")
	return cmd
}

func streamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "Show liquidation stream health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var streams []models.StreamStatus
			if err := client().call(cmd.Context(), xhttp.MethodGet, "/api/streams", nil, nil, &streams); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(out, streams)
			}
			sort.Slice(streams, func(i, j int) bool { return streams[i].Exchange < streams[j].Exchange })
			tw := table(out)
			fmt.Fprintln(tw, "EXCHANGE\tCONNECTED\tHEALTHY\tRECONNECTS\tGAVE UP\tLAST HEARTBEAT")
			for _, s := range streams {
				last := "-"
				if !s.LastHeartbeat.IsZero() {
					last = s.LastHeartbeat.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%d\t%t\t%s\n", s.Exchange, s.Connected, s.Healthy, s.ReconnectAttempts, s.GaveUp, last)
			}
			return tw.Flush()
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Lift an emission halt after repairing the dedup store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client().call(cmd.Context(), xhttp.MethodPost, "/api/resume", nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "emission resumed")
			return nil
		},
	}
}
