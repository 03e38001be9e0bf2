package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"kavitabot/internal/app"
	"kavitabot/internal/jobs"
	"kavitabot/internal/task/scheduler"
)

var errRejectedJobs = errors.New("some jobs were rejected")

func newJobsCmd(cfgPath *string) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scheduled jobs",
	}

	var (
		count int
		tz    string
	)
	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a jobs document and preview its next fire times",
		Long: "check parses the jobs document the bot would load (scheduler.jobs_file, or the \"jobs\" document in storage) " +
			"or the file given as argument, and prints the next fire times of every enabled job.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				source   string
				list     []jobs.Job
				rejected []jobs.Rejected
				err      error
			)
			if len(args) == 1 {
				source = args[0]
				var data []byte
				if data, err = os.ReadFile(source); err != nil {
					return err
				}
				list, rejected, err = jobs.Parse(source, data)
			} else {
				cfg, _, lerr := loadConfig(*cfgPath)
				if lerr != nil {
					return lerr
				}
				if tz == "" {
					tz = cfg.Scheduler.Timezone
				}
				source, list, rejected, err = app.LoadJobs(cmd.Context(), cfg)
			}
			if err != nil {
				return err
			}
			loc := time.Local
			if strings.TrimSpace(tz) != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return fmt.Errorf("timezone: %w", err)
				}
			}
			printJobs(cmd.OutOrStdout(), source, list, rejected, loc, time.Now(), count)
			if len(rejected) > 0 {
				return errRejectedJobs
			}
			return nil
		},
	}
	check.Flags().IntVarP(&count, "next", "n", 3, "number of fire times to show per job")
	check.Flags().StringVar(&tz, "tz", "", "timezone for fire times (default: scheduler.timezone)")

	jobsCmd.AddCommand(check)
	return jobsCmd
}

func printJobs(w io.Writer, source string, list []jobs.Job, rejected []jobs.Rejected, loc *time.Location, now time.Time, n int) {
	fmt.Fprintf(w, "%s: %s, %d rejected\n\n", source, english.Plural(len(list), "job", "jobs"), len(rejected))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTRIGGER\tACTION\tNEXT")
	for _, j := range list {
		next := "disabled"
		if j.Enabled {
			times, err := scheduler.Preview(j, loc, now, n)
			switch {
			case err != nil:
				next = "error: " + err.Error()
			case len(times) == 0:
				next = "never"
			default:
				parts := make([]string, len(times))
				for i, t := range times {
					parts[i] = t.Format("2006-01-02 15:04:05 MST")
				}
				next = strings.Join(parts, ", ") + " (" + humanize.RelTime(times[0], now, "ago", "from now") + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Trigger, j.Action, next)
	}
	_ = tw.Flush()

	for _, r := range rejected {
		fmt.Fprintf(w, "rejected: %v\n", r)
	}
}
