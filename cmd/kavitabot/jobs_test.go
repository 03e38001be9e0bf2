package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kavitabot/internal/jobs"
)

func TestPrintJobs(t *testing.T) {
	t.Parallel()

	list := []jobs.Job{
		{ID: "nightly", Enabled: true, Trigger: jobs.Daily{Hour: 2}, Action: jobs.RunCommand("1", jobs.CmdServerStats)},
		{ID: "paused", Enabled: false, Trigger: jobs.Daily{Hour: 3}, Action: jobs.SendMessage("1", "hi")},
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printJobs(&buf, "jobs.json", list, nil, time.UTC, now, 2)

	out := buf.String()
	for _, want := range []string{
		"jobs.json: 2 jobs, 0 rejected",
		"2026-05-02 02:00:00 UTC, 2026-05-03 02:00:00 UTC",
		"disabled",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestJobsCheckCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(good, []byte("- id: digest\n  hour: 8\n  minute: 30\n  type: command\n  command_name: recently_updated\n  channel_id: 5\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte(`[{"id":"x","type":"send_message","channel_id":"1","message":"hi"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name    string
		file    string
		want    string
		wantErr error
	}{
		{name: "valid", file: good, want: "digest"},
		{name: "rejected entry", file: bad, want: "rejected:", wantErr: errRejectedJobs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs([]string{"jobs", "check", "--tz", "UTC", tt.file})
			err := root.Execute()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Fatalf("output lacks %q:\n%s", tt.want, out.String())
			}
		})
	}
}
