package embedder

import (
	"os"
	"strconv"
	"strings"
)

// availableMemoryMB reports the system's available memory in MB from
// /proc/meminfo. On platforms without it the gate cannot be evaluated and
// ok is false, in which case model loading proceeds.
func availableMemoryMB() (int, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	return parseMemAvailable(string(data))
}

func parseMemAvailable(meminfo string) (int, bool) {
	for _, line := range strings.Split(meminfo, "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return int(kb / 1024), true
	}
	return 0, false
}
