package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"watchpod/internal/config"
	"watchpod/internal/daemon"
	"watchpod/internal/logging"
	"watchpod/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	apiAddr    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		configPath: configPath,
		apiAddr:    d.APIAddr(),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()

	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", env.configPath, "--api", env.apiAddr))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLIStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	output, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(output, "RUNNING") {
		t.Errorf("status output missing RUNNING:\n%s", output)
	}
}

func TestCLIPodcastListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	output, err := env.run(t, "podcast", "list")
	if err != nil {
		t.Fatalf("podcast list: %v", err)
	}
	if !strings.Contains(output, "No subscriptions") {
		t.Errorf("expected empty-list hint, got:\n%s", output)
	}
}

func TestCLIEpisodesTable(t *testing.T) {
	env := setupCLITestEnv(t)
	podcastID := seedCLIPodcast(t, env)

	output, err := env.run(t, "episodes", podcastID)
	if err != nil {
		t.Fatalf("episodes: %v", err)
	}
	if !strings.Contains(output, "Episode guid-1") {
		t.Errorf("episode table missing seeded episode:\n%s", output)
	}
	if !strings.Contains(output, "Pending") {
		t.Errorf("episode table missing state column:\n%s", output)
	}
}

func TestCLIDownloadStatusUnknownEpisode(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "download", "status", "9999")
	if err == nil {
		t.Fatal("download status for unknown episode should fail")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCLISyncHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	output, err := env.run(t, "sync", "history")
	if err != nil {
		t.Fatalf("sync history: %v", err)
	}
	if !strings.Contains(output, "No sync runs recorded") {
		t.Errorf("expected empty history message, got:\n%s", output)
	}
}

func TestCLIStorageCleanupFailed(t *testing.T) {
	env := setupCLITestEnv(t)

	output, err := env.run(t, "storage", "cleanup", "--type", "failed")
	if err != nil {
		t.Fatalf("storage cleanup: %v", err)
	}
	if !strings.Contains(output, `Cleanup "failed"`) {
		t.Errorf("unexpected cleanup output:\n%s", output)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
}

func seedCLIPodcast(t *testing.T, env *cliTestEnv) string {
	t.Helper()

	st := testsupport.MustOpenStore(t, env.cfg)
	podcast := testsupport.SeedPodcast(t, st)
	testsupport.SeedEpisode(t, st, podcast.ID, "guid-1")
	return strconv.FormatInt(podcast.ID, 10)
}
