package events

import "testing"

func TestEventTypesAreDistinct(t *testing.T) {
	all := []string{
		TypeRunCompleted, TypeRunInterrupted,
		TypeWaveStarted, TypeWaveCompleted, TypeWaveGated,
		TypeSessionStarted, TypeSessionProgress, TypeSessionCompleted, TypeSessionFailed, TypeSessionRetry,
	}
	seen := map[string]bool{}
	for _, v := range all {
		if seen[v] {
			t.Fatalf("duplicate event type value %q", v)
		}
		seen[v] = true
	}
}
