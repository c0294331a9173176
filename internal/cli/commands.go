package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the live session and today's totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output != FormatTable {
				return encode(opts.out, opts.output, status)
			}

			t := newTable(opts.color(), "FIELD", "VALUE")
			t.add("today", fmt.Sprintf("%s, %d videos", formatDuration(status.DailyStats.TotalTime), status.DailyStats.TotalVideos))
			if s := status.Session; s != nil {
				state := "paused"
				if s.IsTracking {
					state = "tracking"
					if opts.color() {
						state = colorGreen + state + colorReset
					}
				}
				t.add("platform", string(s.Platform))
				t.add("state", state)
				t.add("started", time.UnixMilli(s.StartTime).Local().Format("15:04:05"))
				t.add("session", fmt.Sprintf("%s, %d videos", formatDuration(s.AccumulatedTime), s.VideoCount))
			} else {
				t.add("session", "none")
			}
			return t.render(opts.out)
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		platform string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finalized sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlatform(platform)
			if err != nil {
				return err
			}
			list, err := opts.client().History(cmd.Context(), p)
			if err != nil {
				return err
			}
			if limit > 0 && len(list) > limit {
				list = list[:limit]
			}
			if opts.output != FormatTable {
				return encode(opts.out, opts.output, list)
			}

			t := newTable(opts.color(), "STARTED", "PLATFORM", "TIME", "VIDEOS", "LAST TITLE")
			for _, s := range list {
				last := ""
				if n := len(s.VideoLog); n > 0 {
					last = truncate(s.VideoLog[n-1].Title, maxTitleWidth)
				}
				t.add(
					time.UnixMilli(s.StartTime).Local().Format("2006-01-02 15:04"),
					string(s.Platform),
					formatDuration(s.AccumulatedTime),
					strconv.Itoa(s.VideoCount),
					last,
				)
			}
			return t.render(opts.out)
		},
	}
	platformFlag(cmd, &platform)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Limit result count (0 = unlimited)")
	return cmd
}

func newWeekCommand(opts *options) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the seven-day trend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlatform(platform)
			if err != nil {
				return err
			}
			days, err := opts.client().Week(cmd.Context(), p)
			if err != nil {
				return err
			}
			if opts.output != FormatTable {
				return encode(opts.out, opts.output, days)
			}

			var top int64
			for _, d := range days {
				top = max(top, d.TotalTime)
			}
			t := newTable(opts.color(), "DATE", "DAY", "MINUTES", "VIDEOS", "")
			for _, d := range days {
				t.add(d.Date, d.Weekday, strconv.Itoa(d.Minutes), strconv.Itoa(d.Videos), bar(d.TotalTime, top, 20))
			}
			return t.render(opts.out)
		},
	}
	platformFlag(cmd, &platform)
	return cmd
}

func newExportCommand(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the history as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := opts.client().Export(cmd.Context())
			if err != nil {
				return err
			}
			if file == "" || file == "-" {
				_, err = opts.out.Write(doc)
				return err
			}
			if err := os.WriteFile(file, doc, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", file, err)
			}
			fmt.Fprintf(opts.out, "history written to %s\n", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to file instead of stdout")
	return cmd
}

func newImportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an exported history into the server's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			res, err := opts.client().Import(cmd.Context(), doc)
			if err != nil {
				return err
			}
			if opts.output != FormatTable {
				return encode(opts.out, opts.output, res)
			}
			fmt.Fprintf(opts.out, "imported %d, skipped %d, %d sessions total\n", res.Imported, res.Skipped, res.Total)
			return nil
		},
	}
}

var errNoSession = errors.New("no active session")

func newPauseCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if status.Session == nil {
				return errNoSession
			}
			res, err := c.Pause(cmd.Context(), status.Session.Platform)
			if err != nil {
				return err
			}
			if opts.output != FormatTable {
				return encode(opts.out, opts.output, res)
			}
			fmt.Fprintf(opts.out, "%s session paused\n", status.Session.Platform)
			return nil
		},
	}
}
