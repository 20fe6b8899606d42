package bpmlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewVerboseEnablesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	entry := New(&buf, true)

	entry.Debug("debug line")
	if !strings.Contains(buf.String(), "debug line") {
		t.Fatalf("expected debug line to be written in verbose mode, got: %q", buf.String())
	}
}

func TestNewNonVerboseSuppressesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	entry := New(&buf, false)

	entry.Debug("debug line")
	if strings.Contains(buf.String(), "debug line") {
		t.Fatalf("expected debug line to be suppressed outside verbose mode, got: %q", buf.String())
	}

	entry.Info("info line")
	if !strings.Contains(buf.String(), "info line") {
		t.Fatalf("expected info line to be written, got: %q", buf.String())
	}
}

func TestNewUsesTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	entry := New(&buf, false)
	if _, ok := entry.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected a *logrus.TextFormatter, got %T", entry.Logger.Formatter)
	}
}
