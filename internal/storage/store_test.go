package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	logx "kavitabot/pkg/logx"
)

func TestStores(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  func(dir string) Config
	}{
		{"file", func(dir string) Config { return Config{Driver: "file", Path: dir} }},
		{"sqlite", func(dir string) Config { return Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")} }},
		{"memory", func(string) Config { return Config{Driver: "memory"} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(tc.cfg(t.TempDir()), logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer st.Close()

			if _, err := st.Load(ctx, DocSubscriptions); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing doc err=%v, want ErrNotFound", err)
			}
			if err := st.Save(ctx, DocSubscriptions, []byte(`{"a":1}`)); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := st.Save(ctx, DocSubscriptions, []byte(`{"a":2}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := st.Load(ctx, DocSubscriptions)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if string(got) != `{"a":2}` {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := NewFile(dir, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Save(context.Background(), DocReactables, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "reactables.json" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}

func TestFileStoreRejectsBadNames(t *testing.T) {
	t.Parallel()
	st, _ := NewFile(t.TempDir(), logx.Nop())
	if err := st.Save(context.Background(), "../escape", nil); err == nil {
		t.Fatalf("expected error for path traversal name")
	}
}

func TestOpenRejectsConfig(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{
		{Driver: "cassandra"},
		{Driver: "sqlite"},
		{Driver: "postgres"},
		{Driver: "redis"},
		{Driver: "redis", DSN: "http://not-redis"},
	} {
		if _, err := Open(cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v) succeeded", cfg)
		}
	}
}

// TestNetworkStores runs against real servers when their address is set in
// the environment.
func TestNetworkStores(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  string
		cfg  func(dsn string) Config
	}{
		{"postgres", "KAVITABOT_TEST_POSTGRES_DSN", func(dsn string) Config { return Config{Driver: "postgres", DSN: dsn} }},
		{"redis", "KAVITABOT_TEST_REDIS_URL", func(dsn string) Config {
			return Config{Driver: "redis", DSN: dsn, Prefix: "kavitabot-test:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dsn := os.Getenv(tc.env)
			if dsn == "" {
				t.Skipf("%s not set", tc.env)
			}
			ctx := context.Background()
			st, err := Open(tc.cfg(dsn), logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer st.Close()

			name := "test-" + strconv.FormatInt(time.Now().UnixNano(), 36)
			if _, err := st.Load(ctx, name); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing doc err=%v, want ErrNotFound", err)
			}
			for _, body := range []string{`{"a":1}`, `{"a":2}`} {
				if err := st.Save(ctx, name, []byte(body)); err != nil {
					t.Fatalf("save: %v", err)
				}
			}
			got, err := st.Load(ctx, name)
			if err != nil || string(got) != `{"a":2}` {
				t.Fatalf("load = %q, %v", got, err)
			}
		})
	}
}

func TestMemoryFailSave(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	boom := errors.New("disk full")
	m.SetFailSave(boom)
	if err := m.Save(context.Background(), DocJobs, []byte("[]")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	m.SetFailSave(nil)
	if err := m.Save(context.Background(), DocJobs, []byte("[]")); err != nil {
		t.Fatalf("save: %v", err)
	}
}
