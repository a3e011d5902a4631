package version

import "testing"

func TestGetShortCommit(t *testing.T) {
	prev := GitCommit
	t.Cleanup(func() { GitCommit = prev })

	GitCommit = "abcdef123456"
	if GetShortCommit() != "abcdef1" {
		t.Fatalf("expected short commit")
	}
	if got := String(); got != "sextant/"+Version+" (abcdef1)" {
		t.Fatalf("unexpected version string %q", got)
	}
}
