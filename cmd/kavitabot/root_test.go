package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"kavitabot/internal/app"
	logx "kavitabot/pkg/logx"
)

type fakeStopper struct {
	err    error
	reason app.StopReason
	budget bool
}

func (f *fakeStopper) Stop(ctx context.Context, reason app.StopReason) error {
	f.reason = reason
	_, f.budget = ctx.Deadline()
	return f.err
}

func TestStopAppReportsIncompleteShutdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantLog bool
	}{
		{name: "clean", err: nil},
		{name: "step overran", err: errors.New("loop: context deadline exceeded"), wantLog: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			st := &fakeStopper{err: tt.err}
			stopApp(logx.NewWriter(&buf, "info"), st, app.StopSignal)

			if st.reason != app.StopSignal || !st.budget {
				t.Fatalf("stop called with reason=%q deadline=%v", st.reason, st.budget)
			}
			out := buf.String()
			if got := strings.Contains(out, "shutdown incomplete"); got != tt.wantLog {
				t.Fatalf("log = %q, want shutdown warning %v", out, tt.wantLog)
			}
			if tt.wantLog && !strings.Contains(out, `"reason":"signal"`) {
				t.Fatalf("log lacks reason: %q", out)
			}
		})
	}
}
