package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewDefaultsToInfoLevelOnEmptyString(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("GetLevel() = %v, want %v", log.GetLevel(), zerolog.InfoLevel)
	}
}

func TestNewDefaultsToInfoLevelOnInvalidString(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "not-a-level", Output: &buf})
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("GetLevel() = %v, want %v", log.GetLevel(), zerolog.InfoLevel)
	}
}

func TestNewParsesExplicitLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})
	if log.GetLevel() != zerolog.DebugLevel {
		t.Errorf("GetLevel() = %v, want %v", log.GetLevel(), zerolog.DebugLevel)
	}
}

func TestNewWritesJSONLinesByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})
	log.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}

func TestNewPrettyOutputIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Pretty: true, Output: &buf})
	log.Info().Msg("hello")
	if strings.Contains(buf.String(), `"message":"hello"`) {
		t.Errorf("pretty output should not be raw JSON, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("pretty output should still contain the message text, got %q", buf.String())
	}
}

func TestNopDiscardsOutput(t *testing.T) {
	log := Nop()
	log.Info().Msg("should not appear anywhere")
	if log.GetLevel() != zerolog.Disabled {
		t.Errorf("Nop logger level = %v, want %v", log.GetLevel(), zerolog.Disabled)
	}
}
