package autoupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const (
	oldBinary = "\x7fELF old build"
	newBinary = "\x7fELF new build"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	manager  *Manager
	binary   string
	restarts chan struct{}
	hits     *atomic.Int32
	url      string
}

func newFixture(t *testing.T, version string, body string) *fixture {
	t.Helper()

	dir := t.TempDir()
	binary := filepath.Join(dir, "print-agent")
	if err := os.WriteFile(binary, []byte(oldBinary), 0o755); err != nil {
		t.Fatal(err)
	}

	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	restarts := make(chan struct{}, 1)
	m, err := NewManager(Options{
		CurrentVersion: version,
		BinaryPath:     binary,
		MinDiskSpaceMB: 1,
		RetryBaseDelay: time.Millisecond,
		RestartDelay:   10 * time.Millisecond,
		Restarter: RestartFunc(func() error {
			restarts <- struct{}{}
			return nil
		}),
		Clock: func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Stop)
	return &fixture{manager: m, binary: binary, restarts: restarts, hits: hits, url: srv.URL}
}

func TestNewManagerRequiresVersion(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(Options{}); err == nil {
		t.Fatal("expected error without current version")
	}
}

func TestApplyInstallsAndRestarts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.0.0", newBinary)
	res := f.manager.Apply(context.Background(), Request{URL: f.url + "/agent", SHA256: sha(newBinary), Version: "1.1.0"})
	if !res.Success {
		t.Fatalf("Apply() failed: %s (%s)", res.Message, res.ErrorCode)
	}

	got, err := os.ReadFile(f.binary)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != newBinary {
		t.Errorf("binary not replaced: %q", got)
	}
	backup, err := os.ReadFile(res.BackupPath)
	if err != nil || string(backup) != oldBinary {
		t.Errorf("backup missing or wrong: %q %v", backup, err)
	}
	if !strings.HasSuffix(res.BackupPath, ".backup.20260501120000") {
		t.Errorf("unexpected backup path %s", res.BackupPath)
	}
	if st, _ := os.Stat(f.binary); st.Mode().Perm()&0o100 == 0 {
		t.Errorf("new binary is not executable: %v", st.Mode())
	}

	select {
	case <-f.restarts:
	case <-time.After(2 * time.Second):
		t.Fatal("restart was not triggered")
	}
	if f.manager.Status() != StatusRestarting {
		t.Errorf("status = %s, want restarting", f.manager.Status())
	}

	entries, _ := os.ReadDir(filepath.Dir(f.binary))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".new-") {
			t.Errorf("staging file left behind: %s", e.Name())
		}
	}
}

func TestApplyRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		req      func(url string) Request
		wantCode string
	}{
		{
			name:     "hash mismatch",
			body:     newBinary,
			req:      func(url string) Request { return Request{URL: url + "/agent", SHA256: sha("other")} },
			wantCode: ErrCodeHashMismatch,
		},
		{
			name:     "not newer",
			body:     newBinary,
			req:      func(url string) Request { return Request{URL: url + "/agent", Version: "v1.0.0"} },
			wantCode: ErrCodeNotNewer,
		},
		{
			name:     "download failure",
			body:     newBinary,
			req:      func(url string) Request { return Request{URL: url + "/missing"} },
			wantCode: ErrCodeDownloadFailed,
		},
		{
			name:     "missing url",
			body:     newBinary,
			req:      func(string) Request { return Request{} },
			wantCode: ErrCodeDownloadFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "1.0.0", tt.body)
			res := f.manager.Apply(context.Background(), tt.req(f.url))
			if res.Success {
				t.Fatal("Apply() unexpectedly succeeded")
			}
			if res.ErrorCode != tt.wantCode {
				t.Errorf("ErrorCode = %s, want %s (%s)", res.ErrorCode, tt.wantCode, res.Message)
			}
			if got, _ := os.ReadFile(f.binary); string(got) != oldBinary {
				t.Errorf("binary modified on failure")
			}
			select {
			case <-f.restarts:
				t.Error("restart triggered on failure")
			case <-time.After(30 * time.Millisecond):
			}
		})
	}
}

func TestApplyRetriesDownloads(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.0.0", newBinary)
	res := f.manager.Apply(context.Background(), Request{URL: f.url + "/missing"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if got := f.hits.Load(); got != defaultMaxRetries {
		t.Errorf("download attempts = %d, want %d", got, defaultMaxRetries)
	}
	if f.manager.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", f.manager.Status())
	}
}

func TestForceAllowsSameVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "2.0.0", newBinary)
	res := f.manager.Apply(context.Background(), Request{URL: f.url + "/agent", Version: "2.0.0", Force: true})
	if !res.Success {
		t.Fatalf("forced Apply() failed: %s", res.Message)
	}
}

func TestIsUpdateNeeded(t *testing.T) {
	t.Parallel()

	m := &Manager{currentVersion: "1.2.3"}
	if needed, _ := m.isUpdateNeeded("1.3.0"); !needed {
		t.Error("unparsed current version should always update")
	}

	f := newFixture(t, "1.2.3", newBinary)
	tests := map[string]bool{
		"":        true,
		"1.2.4":   true,
		"v2.0.0":  true,
		"1.2.3":   false,
		"1.0.0":   false,
		"garbage": true,
	}
	for target, want := range tests {
		if got, _ := f.manager.isUpdateNeeded(target); got != want {
			t.Errorf("isUpdateNeeded(%q) = %v, want %v", target, got, want)
		}
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.0.0", newBinary)
	info, err := f.manager.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.FileHash != sha(oldBinary) {
		t.Errorf("FileHash = %s", info.FileHash)
	}
	if info.Version != "1.0.0" || info.BinaryPath != f.binary || info.ModifiedTime == "" {
		t.Errorf("unexpected info %+v", info)
	}
}
