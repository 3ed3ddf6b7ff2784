// Package admin implements the maintenance commands of the admin CLI.
package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/analyst/agent/pkg/memory"
)

// ListEntries prints the stored entries of a session, newest first.
func ListEntries(ctx context.Context, w io.Writer, store memory.Store, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	infos, err := store.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintf(w, "No entries for session %s\n", sessionID)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Key", "Created", "Size\n(bytes)", "Summary"})
	for _, info := range infos {
		table.Append([]string{
			info.Key,
			info.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(info.Size),
			info.Summary,
		})
	}
	table.Render()
	return nil
}

// GetEntry writes the payload stored under key to w.
func GetEntry(ctx context.Context, w io.Writer, store memory.Store, key string) error {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if _, err := w.Write(entry.Payload); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

// CleanupConfig configures a retention sweep.
type CleanupConfig struct {
	Retention time.Duration
	DryRun    bool
}

// Cleanup removes entries older than the retention period.
func Cleanup(ctx context.Context, log *slog.Logger, w io.Writer, store memory.Store, cfg CleanupConfig) error {
	if cfg.Retention <= 0 {
		return fmt.Errorf("retention must be greater than 0")
	}
	if cfg.DryRun {
		fmt.Fprintf(w, "[DRY RUN] Would remove memory entries older than %s\n", cfg.Retention)
		return nil
	}

	removed, err := store.Cleanup(ctx, cfg.Retention)
	if err != nil {
		return fmt.Errorf("failed to clean up memory: %w", err)
	}
	log.Info("admin: memory cleanup complete", "removed", removed, "retention", cfg.Retention)
	fmt.Fprintf(w, "Removed %d entries older than %s\n", removed, cfg.Retention)
	return nil
}
