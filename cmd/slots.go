package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/server"
)

func newSlotsCmd() *cobra.Command {
	var (
		identity     string
		calendarID   string
		participants string
		start        string
		end          string
		interval     int
		timeZone     string
		asJSON       bool
		debugMode    bool
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the free slots for a range",
		Long: `Query both providers once and print the free slots.

Examples:
  slotfinder slots --identity alice --start 2026-03-02T09:00:00+05:30 --end 2026-03-02T18:00:00+05:30
  slotfinder slots --participants bob@example.com,carol@example.com \
      --start 2026-03-02T09:00:00Z --end 2026-03-02T17:00:00Z --interval 45 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := availability.ParseTimeRange(start, end)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.ProviderTimeout)+10*time.Second)
			defer cancel()

			a, err := newApp(ctx, cfg, newLogger(cfg, debugMode), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			slots, err := a.engine.GetAvailability(ctx, availability.Request{
				Identity:        identity,
				CalendarID:      calendarID,
				Participants:    parseCommaSeparatedList(participants),
				Range:           rng,
				IntervalMinutes: interval,
				TimeZone:        timeZone,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeSlotsJSON(cmd.OutOrStdout(), slots)
			}
			return writeSlotsTable(cmd.OutOrStdout(), slots)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Identity whose linked Google calendar is consulted")
	cmd.Flags().StringVar(&calendarID, "calendar", "", "Google calendar ID (default: primary)")
	cmd.Flags().StringVar(&participants, "participants", "", "Comma-separated Microsoft 365 participant emails")
	cmd.Flags().StringVar(&start, "start", "", "Range start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Range end (RFC3339)")
	cmd.Flags().IntVar(&interval, "interval", availability.DefaultIntervalMinutes, "Slot length in minutes (5-120)")
	cmd.Flags().StringVar(&timeZone, "tz", "", "Time zone for displayed slots (default: DEFAULT_TIME_ZONE)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func writeSlotsJSON(w io.Writer, slots []availability.Slot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(server.AvailabilityResponse{Slots: slots, Count: len(slots)})
}

// writeSlotsTable prints one slot per line in the slot's own time zone.
func writeSlotsTable(w io.Writer, slots []availability.Slot) error {
	if len(slots) == 0 {
		_, err := fmt.Fprintln(w, "No free slots in range.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tTIME ZONE")
	for _, s := range slots {
		loc, err := time.LoadLocation(s.TimeZone)
		if err != nil {
			loc = time.UTC
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			s.Start.In(loc).Format("Mon 2006-01-02 15:04"),
			s.End.In(loc).Format("15:04"),
			s.TimeZone)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d slot(s)\n", len(slots))
	return err
}
