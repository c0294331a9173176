// Package cli implements trackerctl, a terminal client for the tracking server.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

type options struct {
	server  string
	output  string
	timeout time.Duration
	out     io.Writer
}

func (o *options) client() *Client {
	return NewClient(o.server, o.timeout)
}

func (o *options) color() bool {
	return o.output == FormatTable && isTerminal(o.out)
}

func (o *options) validate() error {
	switch o.output {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	}
	return fmt.Errorf("invalid --output %q (table, json, yaml)", o.output)
}

// NewRootCommand builds the trackerctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{out: out}
	server := os.Getenv("TRACKER_SERVER")
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:   "trackerctl",
		Short: "Inspect and manage short-video viewing sessions",
		Long: `trackerctl talks to a running tracking server.

Examples:
  trackerctl status                       # Live session and today's totals
  trackerctl history --platform tiktok    # Finalized TikTok sessions
  trackerctl week -o yaml                 # Seven-day trend as YAML
  trackerctl export -f backup.json        # Save the history
  trackerctl import backup.json           # Merge a saved history`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.server, "server", server,
		"Tracking server base URL (env TRACKER_SERVER)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", FormatTable,
		"Output format (table, json, yaml)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout,
		"Request timeout")

	root.AddCommand(
		newStatusCommand(opts),
		newHistoryCommand(opts),
		newWeekCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newPauseCommand(opts),
	)
	return root
}

// Execute runs trackerctl against os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout).Execute()
}

func platformFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "platform", "p", "", "Only this platform (youtube, tiktok)")
}

func parsePlatform(s string) (models.Platform, error) {
	if s == "" || s == "all" {
		return "", nil
	}
	p := models.Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid platform %q", s)
	}
	return p, nil
}
