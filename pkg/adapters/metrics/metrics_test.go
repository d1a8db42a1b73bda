package metrics

import "testing"

func TestDefaultIsShared(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("expected Default to return a single recorder")
	}
}
