package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestGetDefaults(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "  "
	if got := Get().Version; got != "dev" {
		t.Fatalf("blank version = %q", got)
	}
	Version = "1.2.3"
	if got := Get().Version; got != "1.2.3" {
		t.Fatalf("version = %q", got)
	}
}

func TestGetKeepsLinkedCommit(t *testing.T) {
	orig := GitCommit
	defer func() { GitCommit = orig }()

	GitCommit = "abc123def456"
	if got := Get().GitCommit; got != "abc123def456" {
		t.Fatalf("commit = %q", got)
	}
}

func TestColored(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	if got := Colored("0.1.0-dev"); got != "0.1.0-dev" {
		t.Fatalf("colored = %q", got)
	}
	if got := Colored("nightly"); got != "nightly" {
		t.Fatalf("non-semver = %q", got)
	}
}
