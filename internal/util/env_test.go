package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{" true ", false, true},
	}
	for _, tt := range tests {
		t.Setenv("LEADFLOW_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("LEADFLOW_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		def   int
		want  int
	}{
		{"5", 3, 5},
		{"-2", 3, -2},
		{"", 3, 3},
		{"abc", 3, 3},
		{"4.5", 3, 3},
		{" 7 ", 3, 7},
	}
	for _, tt := range tests {
		t.Setenv("LEADFLOW_TEST_INT", tt.value)
		if got := ParseIntEnv("LEADFLOW_TEST_INT", tt.def); got != tt.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		def   time.Duration
		want  time.Duration
	}{
		{"30s", time.Minute, 30 * time.Second},
		{"5m", time.Minute, 5 * time.Minute},
		{"1h30m", time.Minute, 90 * time.Minute},
		{"", time.Minute, time.Minute},
		{"30", time.Minute, time.Minute},
		{"soon", time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("LEADFLOW_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("LEADFLOW_TEST_DURATION", tt.def); got != tt.want {
			t.Errorf("ParseDurationEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}
