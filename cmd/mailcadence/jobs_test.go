package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestJobsCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.json")
	body := `{"storage":{"driver":"file","path":"` + filepath.ToSlash(filepath.Join(dir, "jobs")) + `"},"scheduler":{"timezone":"UTC"}}`
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	id := strings.TrimSpace(execute(t, "jobs", "add", "--config", cfg,
		"--to", "a@example.com, b@example.com", "--subject", "hi",
		"--schedule", "weekly", "--start", "2099-01-05 09:00"))
	if id == "" {
		t.Fatal("jobs add printed no id")
	}

	list := execute(t, "jobs", "list", "--config", cfg)
	if !strings.Contains(list, id) || !strings.Contains(list, "weekly") || !strings.Contains(list, "2099-01-05 09:00:00") {
		t.Fatalf("jobs list output:\n%s", list)
	}

	next := execute(t, "jobs", "next", "--config", cfg, "-n", "2", id)
	lines := strings.Split(strings.TrimSpace(next), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2099-01-12 09:00:00") {
		t.Fatalf("jobs next output:\n%s", next)
	}

	execute(t, "jobs", "rm", "--config", cfg, id)
	if list := execute(t, "jobs", "list", "--config", cfg); strings.Contains(list, id) {
		t.Fatalf("job still listed after rm:\n%s", list)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"jobs", "add", "--config", cfg, "--to", "a@example.com",
		"--start", "2099-01-05 09:00", "--attach", "../../etc/passwd"})
	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "outside attachments dir") {
		t.Fatalf("jobs add --attach escaping dir: err = %v", err)
	}
	if list := execute(t, "jobs", "list", "--config", cfg); strings.Count(list, "\n") != 1 {
		t.Fatalf("rejected job was stored:\n%s", list)
	}
}
