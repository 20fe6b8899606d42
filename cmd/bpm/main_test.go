package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunPlanPrintsRenderedPlanAndChecksum(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bpm", "plan", "-name", "foo", "-version", "1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "foo@default/1") {
		t.Fatalf("expected rendered plan to mention foo@default/1, got:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "checksum:") {
		t.Fatalf("expected a checksum line, got:\n%s", stdout.String())
	}
}

func TestRunPlanRequiresNameAndVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bpm", "plan"}, &stdout, &stderr)
	if code == 0 {
		t.Fatalf("expected a non-zero exit code when -name/-version are missing")
	}
	if !strings.Contains(stderr.String(), "required") {
		t.Fatalf("expected an error mentioning the missing flags, got:\n%s", stderr.String())
	}
}

func TestRunUnknownCommandPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bpm", "bogus"}, &stdout, &stderr)
	if code == 0 {
		t.Fatalf("expected a non-zero exit code for an unknown command")
	}
	if !strings.Contains(stderr.String(), "no such command") {
		t.Fatalf("expected a no-such-command message, got:\n%s", stderr.String())
	}
}

func TestRunChecksumOnlyPrintsJustTheChecksum(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bpm", "plan", "-name", "foo", "-version", "1", "-checksum-only"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line of output, got:\n%s", stdout.String())
	}
}
