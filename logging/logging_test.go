package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitEnvOverride(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	t.Setenv("CLEANEE_LOG_LEVEL", "error")
	t.Setenv("CLEANEE_LOG_FORMAT", "json")
	Init("debug")
	if got := zerolog.GlobalLevel(); got != zerolog.ErrorLevel {
		t.Errorf("GlobalLevel = %v, want error", got)
	}
}
