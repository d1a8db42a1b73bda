package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/core"
	"ovndbsync/pkg/mirror"
)

const testConfig = `
[ovn]
nb_connection = "tcp:127.0.0.1:6641"
sb_connection = "tcp:127.0.0.1:6642"

[host]
snapshot_file = "/etc/ovndbsync/snapshot.yaml"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ovndbsync.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	t.Setenv("OVNDBSYNC_NB_CONNECTION", "tcp:10.0.0.1:6641")
	opts := &options{configFile: writeConfig(t, testConfig), sb: "unix:/run/ovn/ovnsb_db.sock"}

	cfg, err := opts.load("repair")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OVN.NBConnection != "tcp:10.0.0.1:6641" || cfg.OVN.SBConnection != "unix:/run/ovn/ovnsb_db.sock" {
		t.Fatalf("unexpected connections: %+v", cfg.OVN)
	}
	if cfg.Sync.Mode != "repair" {
		t.Fatalf("expected repair mode, got %q", cfg.Sync.Mode)
	}
}

func TestLoadFailsBeforeConnecting(t *testing.T) {
	cases := []struct {
		name string
		opts options
		mode string
		want error
	}{
		{name: "invalid mode", opts: options{configFile: writeConfig(t, testConfig)}, mode: "fix", want: core.ErrInvalidMode},
		{name: "bad connection", opts: options{configFile: writeConfig(t, testConfig), nb: "http://nb"}, want: core.ErrInvalidConfig},
		{
			name: "driver not registered",
			opts: options{configFile: writeConfig(t, testConfig+"mechanism_drivers = [\"openvswitch\"]\n")},
			want: core.ErrDriverNotRegistered,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.opts.load(tc.mode); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSyncCommandRejectsInvalidMode(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"sync", "--config", writeConfig(t, testConfig), "--mode", "fix"})
	if err := root.Execute(); !errors.Is(err, core.ErrInvalidMode) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}

func TestReadyzReportsDisconnectedMirrors(t *testing.T) {
	nb := mirror.NewMonitor(mirror.Options{Database: core.NorthboundDatabase, Endpoint: "tcp:127.0.0.1:1", Tables: core.NorthboundTables, Logger: logr.Discard()})
	mux := newMux(nb)

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/readyz": http.StatusInternalServerError, "/metrics": http.StatusOK} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}
