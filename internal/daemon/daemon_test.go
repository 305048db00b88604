package daemon

import (
	"context"
	"strings"
	"testing"

	"watchpod/internal/logging"
	"watchpod/internal/testsupport"
)

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	first, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("build first daemon: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("build second daemon: %v", err)
	}
	defer second.Stop()

	err = second.Start(context.Background())
	if err == nil {
		t.Fatal("second instance should fail to start while the first holds the lock")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDaemonStatusReportsRuntime(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("build daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	defer d.Stop()

	status := d.Status(context.Background())
	if !status.Running {
		t.Error("status should report running after Start")
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Errorf("database path = %q, want %q", status.DatabasePath, cfg.DatabasePath())
	}
	if status.ActiveDownloads != 0 {
		t.Errorf("active downloads = %d, want 0", status.ActiveDownloads)
	}

	d.Stop()
	if d.Status(context.Background()).Running {
		t.Error("status should report stopped after Stop")
	}
}
