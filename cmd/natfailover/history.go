package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/events"
	"github.com/cuemby/natfailover/pkg/storage"
)

const defaultDataDir = "/var/lib/natfailover"

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the event journal of a controller",
		Long: `Print the transitions and actions recorded in a controller's event
journal, oldest first. A running controller holds the journal lock for as
long as it runs. When the lock is still held after --timeout, the events are
read from the controller's status server at --addr instead.`,
		Example: `  # Last 20 transitions
  natfailover history --type peer.transition --limit 20

  # Everything from the last hour as JSON
  natfailover history --since 1h --json`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	historyCmd.Flags().String("data-dir", defaultDataDir, "Controller data directory")
	historyCmd.Flags().Int("limit", 50, "Show only the newest N events, 0 for all")
	historyCmd.Flags().Duration("since", 0, "Show only events newer than this (e.g. 1h)")
	historyCmd.Flags().StringSlice("type", nil, "Show only events of these types")
	historyCmd.Flags().Bool("json", false, "Print events as JSON lines")
	historyCmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for the journal lock and the status server")
	historyCmd.Flags().String("addr", fmt.Sprintf("127.0.0.1:%d", config.DefaultStatusPort), "Status server of the running controller, used while it holds the journal")

	return historyCmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")
	typeNames, _ := cmd.Flags().GetStringSlice("type")
	asJSON, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	opts := storage.ListOptions{Limit: limit}
	if since > 0 {
		opts.Since = time.Now().Add(-since)
	}
	for _, name := range typeNames {
		opts.Types = append(opts.Types, events.EventType(name))
	}

	list, err := readJournal(dataDir, timeout, opts)
	if errors.Is(err, storage.ErrJournalLocked) {
		addr, _ := cmd.Flags().GetString("addr")
		if !asJSON {
			fmt.Fprintf(cmd.ErrOrStderr(), "Journal is held by the running controller, reading events from %s\n", addr)
		}
		list, err = fetchEvents(cmd.Context(), addr, timeout, opts)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		for _, event := range list {
			if err := enc.Encode(event); err != nil {
				return err
			}
		}
		return nil
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No events recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tNODE\tTYPE\tMESSAGE\tDETAILS")
	for _, event := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			event.Timestamp.Format(time.RFC3339),
			event.Node,
			event.Type,
			event.Message,
			formatMetadata(event.Metadata),
		)
	}
	return w.Flush()
}

func readJournal(dataDir string, timeout time.Duration, opts storage.ListOptions) ([]*events.Event, error) {
	journal, err := storage.NewBoltJournal(dataDir, storage.BoltOptions{
		ReadOnly: true,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	defer journal.Close()

	list, err := journal.List(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return list, nil
}

// fetchEvents reads the journal through the /events endpoint of a running
// controller
func fetchEvents(ctx context.Context, addr string, timeout time.Duration, opts storage.ListOptions) ([]*events.Event, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	endpoint, err := url.Parse(strings.TrimSuffix(base, "/") + "/events")
	if err != nil {
		return nil, fmt.Errorf("invalid status address %q: %w", addr, err)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(opts.Limit))
	if !opts.Since.IsZero() {
		query.Set("since", opts.Since.UTC().Format(time.RFC3339Nano))
	}
	for _, typ := range opts.Types {
		query.Add("type", string(typ))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("journal is locked and the status server is unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var list []*events.Event
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return list, nil
}

func formatMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, " ")
}
