package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New(&Config{Level: "debug", Output: &buf})

	root.Component("builder").Info("built transaction", "inputs", 2)

	out := buf.String()
	if !strings.Contains(out, "builder") {
		t.Errorf("component prefix missing from %q", out)
	}
	if !strings.Contains(out, "inputs=2") {
		t.Errorf("key/value missing from %q", out)
	}
}

func TestRedacted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf})

	secret := "abandon abandon abandon"
	l.Info("wallet unlocked", "mnemonic", Redacted(secret))

	if strings.Contains(buf.String(), secret) {
		t.Fatalf("secret leaked into log output: %q", buf.String())
	}
	if got := fmt.Sprint(Redacted(secret)); got != "[redacted]" {
		t.Errorf("String() = %q, want [redacted]", got)
	}
}
