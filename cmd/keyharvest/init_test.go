package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/keyharvest/internal/config"
)

func TestRunInitCmd(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()
		cmd := NewInitCmd()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return buf.String(), err
	}

	t.Run("creates config file", func(t *testing.T) {
		t.Parallel()

		outputPath := filepath.Join(t.TempDir(), "nested", configFileName)
		out, err := run(t, "-o", outputPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "Created configuration file") {
			t.Errorf("unexpected output: %s", out)
		}

		info, err := os.Stat(outputPath)
		if err != nil {
			t.Fatalf("expected config file to be created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("permissions = %o, want 600", perm)
		}

		content, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		for _, key := range []string{"crawl:", "accounts:", "proxies:", "fingerprints:"} {
			if !strings.Contains(string(content), key) {
				t.Errorf("expected config to contain %q", key)
			}
		}
	})

	t.Run("fails if file exists without force", func(t *testing.T) {
		t.Parallel()

		outputPath := filepath.Join(t.TempDir(), configFileName)
		if err := os.WriteFile(outputPath, []byte("existing"), 0o600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		_, err := run(t, "-o", outputPath)
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Errorf("expected 'already exists' error, got %v", err)
		}
	})

	t.Run("overwrites file with force flag", func(t *testing.T) {
		t.Parallel()

		outputPath := filepath.Join(t.TempDir(), configFileName)
		if err := os.WriteFile(outputPath, []byte("existing"), 0o600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		if _, err := run(t, "-o", outputPath, "-f"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		content, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if string(content) == "existing" {
			t.Error("expected file to be overwritten")
		}
	})
}

func TestConfigTemplateMatchesDefaults(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), configFileName)
	cmd := NewInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"-o", outputPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := config.LoadConfigFile(outputPath)
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	got := config.NewConfig()
	if err := got.Apply(f); err != nil {
		t.Fatalf("template does not apply: %v", err)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("template is invalid: %v", err)
	}

	want := config.NewConfig()
	if got.Mode != want.Mode || got.Depth != want.Depth || got.TopK != want.TopK {
		t.Errorf("crawl section differs from defaults: got %v/%d/%d", got.Mode, got.Depth, got.TopK)
	}
	if got.MinShows != want.MinShows || got.ExpandMin != want.ExpandMin {
		t.Errorf("thresholds differ from defaults: got %d/%d", got.MinShows, got.ExpandMin)
	}
	if got.QueryInterval != want.QueryInterval || got.WaitTimeout != want.WaitTimeout {
		t.Errorf("timings differ from defaults: got %v/%v", got.QueryInterval, got.WaitTimeout)
	}
	if got.DefaultRegion != want.DefaultRegion {
		t.Errorf("DefaultRegion = %d, want %d", got.DefaultRegion, want.DefaultRegion)
	}
	if got.CaptchaThreshold != want.CaptchaThreshold || got.ProxyFailureThreshold != want.ProxyFailureThreshold {
		t.Errorf("thresholds differ: got %d/%d", got.CaptchaThreshold, got.ProxyFailureThreshold)
	}
	if got.RetryCaptcha != want.RetryCaptcha || got.CaptchaRetryAfter != want.CaptchaRetryAfter {
		t.Errorf("captcha retry differs: got %v/%v", got.RetryCaptcha, got.CaptchaRetryAfter)
	}
	if got.ErrorRetryAfter != want.ErrorRetryAfter {
		t.Errorf("ErrorRetryAfter = %v, want %v", got.ErrorRetryAfter, want.ErrorRetryAfter)
	}
	if got.HealthInterval != want.HealthInterval || got.HealthTarget != want.HealthTarget {
		t.Errorf("health settings differ: got %v %s", got.HealthInterval, got.HealthTarget)
	}
}
