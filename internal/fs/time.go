package fs

import "time"

const timestampLayout = "2006-01-02T15:04:05.000"

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
