package config

import (
	"flag"
	"testing"
	"time"

	"github.com/Sadiq-Teslim/kula-website/internal/transport"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("KULA_SERVER_URL", "")
	t.Setenv("KULA_REQUEST_TIMEOUT", "")
	t.Setenv("KULA_SPEECH_LANG", "")
	t.Setenv("KULA_MODEL_URL", "")
	t.Setenv("KULA_ADVISOR_ADDRESS", "")
	cfg := Load()
	if cfg.ServerURL != DefaultServerURL {
		t.Fatalf("expected default server url, got %q", cfg.ServerURL)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Fatalf("expected 60s default timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.SpeechLang != "en-US" {
		t.Fatalf("expected en-US, got %q", cfg.SpeechLang)
	}
	if cfg.ModelURL != DefaultModelURL || cfg.AdvisorAddress != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_TimeoutParsing(t *testing.T) {
	t.Setenv("KULA_REQUEST_TIMEOUT", "15s")
	if got := Load().RequestTimeout; got != 15*time.Second {
		t.Fatalf("expected 15s, got %s", got)
	}
	t.Setenv("KULA_REQUEST_TIMEOUT", "soon")
	cfg := Load()
	if cfg.RequestTimeout != transport.DefaultTimeout {
		t.Fatalf("expected fallback timeout, got %s", cfg.RequestTimeout)
	}
	found := false
	for _, w := range cfg.Warnings {
		if w == `invalid KULA_REQUEST_TIMEOUT "soon", using 1m0s` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning for the bad timeout, got %v", cfg.Warnings)
	}
}

func TestBindFlags_Overrides(t *testing.T) {
	t.Setenv("KULA_SERVER_URL", "http://env.example")
	cfg := Load()
	fs := flag.NewFlagSet("kula", flag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"-server", "http://localhost:8080", "-timeout", "5s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ServerURL != "http://localhost:8080" || cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}
