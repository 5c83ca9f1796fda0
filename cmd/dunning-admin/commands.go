package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/settings"
	"github.com/spf13/cobra"
)

const (
	defaultAPIURL = "http://localhost:8080"
	apiURLEnv     = "DUNNING_API_URL"
)

type rootOptions struct {
	apiURL string
	json   bool
	out    io.Writer
}

func (o *rootOptions) client() (*adminClient, error) {
	return newAdminClient(o.apiURL)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}

	apiURL := os.Getenv(apiURLEnv)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	rootCmd := &cobra.Command{
		Use:           "dunning-admin",
		Short:         "Inspect and operate the dunning engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api", apiURL, "Engine base URL (env "+apiURLEnv+")")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON")

	rootCmd.AddCommand(trackersCmd(opts))
	rootCmd.AddCommand(jobsCmd(opts))
	rootCmd.AddCommand(evaluateCmd(opts))
	rootCmd.AddCommand(settingsCmd(opts))

	return rootCmd
}

func trackersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trackers",
		Short: "List and complete dunning trackers",
	}

	var shop, contractID, reason, open string
	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List trackers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			query := url.Values{}
			setIfNotEmpty(query, "shop", shop)
			setIfNotEmpty(query, "contractId", contractID)
			setIfNotEmpty(query, "failureReason", reason)
			setIfNotEmpty(query, "open", open)
			setPage(query, page, pageSize)

			result, err := client.listTrackers(cmd.Context(), query)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(opts.out, result)
			}

			w := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSHOP\tCONTRACT\tCYCLE\tREASON\tCOMPLETED")
			for _, t := range result.Data {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					t.ID, t.Shop, t.ContractID, t.BillingCycleIndex, t.FailureReason, formatTime(t.CompletedAt))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "page %d, %d of %d\n", result.Meta.Page, len(result.Data), result.Meta.Total)
			return nil
		},
	}
	list.Flags().StringVar(&shop, "shop", "", "Filter by shop domain")
	list.Flags().StringVar(&contractID, "contract", "", "Filter by contract id")
	list.Flags().StringVar(&reason, "reason", "", "Filter by failure reason")
	list.Flags().StringVar(&open, "open", "", "Filter by open state (true or false)")
	list.Flags().IntVar(&page, "page", 0, "Page number")
	list.Flags().IntVar(&pageSize, "page-size", 0, "Page size")

	complete := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a tracker completed so later failures start a new cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			tracker, err := client.completeTracker(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(opts.out, tracker)
			}
			fmt.Fprintf(opts.out, "tracker %s completed at %s\n", tracker.ID, formatTime(tracker.CompletedAt))
			return nil
		},
	}

	cmd.AddCommand(list, complete)
	return cmd
}

func jobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scheduled jobs",
	}

	var status, kind, shop string
	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			query := url.Values{}
			setIfNotEmpty(query, "status", status)
			setIfNotEmpty(query, "kind", kind)
			setIfNotEmpty(query, "shop", shop)
			setPage(query, page, pageSize)

			result, err := client.listJobs(cmd.Context(), query)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(opts.out, result)
			}

			w := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSHOP\tSTATUS\tATTEMPTS\tRUN AT\tLAST ERROR")
			for _, j := range result.Data {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					j.ID, j.Kind, j.Shop, j.Status, j.Attempts, j.MaxAttempts, j.RunAt.UTC().Format(time.RFC3339), derefString(j.LastError))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "page %d, %d of %d\n", result.Meta.Page, len(result.Data), result.Meta.Total)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending, queued, running, done, failed)")
	list.Flags().StringVar(&kind, "kind", "", "Filter by job kind")
	list.Flags().StringVar(&shop, "shop", "", "Filter by shop domain")
	list.Flags().IntVar(&page, "page", 0, "Page number")
	list.Flags().IntVar(&pageSize, "page-size", 0, "Page size")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			job, err := client.getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(opts.out, job)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func evaluateCmd(opts *rootOptions) *cobra.Command {
	var file, correlationID string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Submit a billing failure event and print the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			var event domain.BillingFailureEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("invalid event json: %w", err)
			}
			if err := event.Validate(); err != nil {
				return err
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			evaluation, err := client.evaluate(cmd.Context(), data, correlationID)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(opts.out, evaluation)
			}

			outcome := string(evaluation.Outcome)
			if evaluation.Duplicate {
				outcome = "duplicate"
			}
			fmt.Fprintf(opts.out, "variant=%s outcome=%s tracker=%s\n", evaluation.Variant, outcome, evaluation.TrackerID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Event JSON file, - for stdin")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id sent with the request")
	return cmd
}

func settingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Work with per-shop dunning settings files",
	}

	var retryAttempts, daysBetween int
	var onFailure string
	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a shop settings file and print the resolved policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedOnFailure, err := domain.ParseOnFailureFromString(onFailure)
			if err != nil {
				return err
			}
			defaults := domain.Settings{
				RetryAttempts:            retryAttempts,
				DaysBetweenRetryAttempts: daysBetween,
				OnFailure:                parsedOnFailure,
			}

			provider, err := settings.LoadFile(args[0], defaults)
			if err != nil {
				return err
			}

			resolved := make(map[string]domain.Settings)
			for _, shop := range provider.Shops() {
				s, err := provider.Resolve(cmd.Context(), shop)
				if err != nil {
					return err
				}
				resolved[shop] = s
			}
			if opts.json {
				return printJSON(opts.out, resolved)
			}

			w := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SHOP\tRETRIES\tDAYS\tON FAILURE\tINVENTORY RETRIES\tINVENTORY DAYS\tINVENTORY NOTIFY")
			for _, shop := range provider.Shops() {
				s := resolved[shop]
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t%d\t%s\n",
					shop, s.RetryAttempts, s.DaysBetweenRetryAttempts, s.OnFailure,
					s.EffectiveInventoryRetryAttempts(), s.EffectiveInventoryDaysBetweenRetryAttempts(), s.InventoryNotificationFrequency)
			}
			return w.Flush()
		},
	}
	check.Flags().IntVar(&retryAttempts, "retry-attempts", 3, "Default retry attempts")
	check.Flags().IntVar(&daysBetween, "days-between", 1, "Default days between retry attempts")
	check.Flags().StringVar(&onFailure, "on-failure", "skip", "Default terminal action")

	cmd.AddCommand(check)
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func setIfNotEmpty(query url.Values, key string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		query.Set(key, value)
	}
}

func setPage(query url.Values, page int, pageSize int) {
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
