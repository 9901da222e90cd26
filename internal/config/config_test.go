package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("CACHE_DRIVER", "memory")
}

func TestNewDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if cfg.Messaging.Driver != "noop" {
		t.Errorf("disabled messaging should fall back to noop, got %s", cfg.Messaging.Driver)
	}
	if cfg.Database.ReaderDSN != cfg.Database.WriterDSN {
		t.Errorf("reader DSN should default to writer DSN")
	}
	if cfg.OTP.MaxAttempts != 5 || cfg.OTP.TTL != 10*time.Minute {
		t.Errorf("unexpected OTP defaults: %+v", cfg.OTP)
	}
	if cfg.Schedule.Location == nil || cfg.Schedule.Location.String() != "America/Toronto" {
		t.Errorf("timezone not loaded: %v", cfg.Schedule.Location)
	}
}

func TestNewRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"short secret":  {"AUTH_JWT_SECRET": "short"},
		"bad cache":     {"CACHE_DRIVER": "memcached"},
		"bad timezone":  {"SCHEDULER_TIMEZONE": "Mars/Base"},
		"bad otp":       {"OTP_LENGTH": "2"},
		"debug in prod": {"OTP_DEBUG": "true", "OBS_ENVIRONMENT": "production"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := New(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestStringSliceParsing(t *testing.T) {
	t.Setenv("TEST_LIST", " a, ,b ,")
	got := getEnvAsStringSlice("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected slice %v", got)
	}
}

func TestEnvParsingFallsBack(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_DURATION", " 90s ")
	if got := getEnvAsInt("TEST_INT", 7); got != 7 {
		t.Errorf("malformed int should fall back, got %d", got)
	}
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("duration = %s", got)
	}
	if got := getEnvAsFloat("TEST_MISSING_FLOAT", 0.5); got != 0.5 {
		t.Errorf("missing float = %v", got)
	}
}

func TestCronSpecCanBeDisabled(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CRON_RENEWAL_REMINDERS", "off")
	t.Setenv("CRON_OTP_CLEANUP", "*/5 * * * *")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if cfg.Schedule.RenewalReminders != "" {
		t.Errorf("disabled job kept spec %q", cfg.Schedule.RenewalReminders)
	}
	if cfg.Schedule.OTPCleanup != "*/5 * * * *" || cfg.Schedule.DailyTiffinCount != "55 23 * * *" {
		t.Errorf("unexpected specs %+v", cfg.Schedule)
	}
}
