package embedder

import "testing"

func TestParseMemAvailable(t *testing.T) {
	meminfo := "MemTotal:       16384000 kB\nMemFree:         1024000 kB\nMemAvailable:    4096000 kB\n"
	mb, ok := parseMemAvailable(meminfo)
	if !ok {
		t.Fatal("expected MemAvailable to parse")
	}
	if mb != 4000 {
		t.Errorf("mb = %d, want 4000", mb)
	}
}

func TestParseMemAvailableMissing(t *testing.T) {
	if _, ok := parseMemAvailable("MemTotal: 1 kB\n"); ok {
		t.Fatal("expected parse failure without MemAvailable line")
	}
}
