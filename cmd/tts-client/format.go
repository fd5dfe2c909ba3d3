package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Size units.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
)

// Format strings for human-readable output.
const (
	formatBytes   = "%d B"
	formatKB      = "%.1f KB"
	formatMB      = "%.1f MB"
	formatSeconds = "%.1fs"
	formatMinutes = "%dm %.1fs"
)

// formatFileSize formats a size in a human-readable string (e.g. "500.5 KB").
func formatFileSize(size int) string {
	switch {
	case size >= megabyte:
		return fmt.Sprintf(formatMB, float64(size)/megabyte)
	case size >= kilobyte:
		return fmt.Sprintf(formatKB, float64(size)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, size)
	}
}

// formatDuration formats d as "45.2s" or "5m 30.5s".
func formatDuration(d time.Duration) string {
	seconds := d.Seconds()
	if d < time.Minute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	minutes := int(d / time.Minute)

	return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*60))
}

// wavDuration reports the play time of a WAV body; other formats report false.
func wavDuration(mimeType string, data []byte) (time.Duration, bool) {
	if !strings.HasPrefix(mimeType, "audio/wav") {
		return 0, false
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return 0, false
	}

	duration, err := decoder.Duration()
	if err != nil {
		return 0, false
	}

	return duration, true
}

// describeAudio summarizes a synthesized file for the terminal.
func describeAudio(mimeType string, data []byte) string {
	summary := mimeType + ", " + formatFileSize(len(data))

	if duration, ok := wavDuration(mimeType, data); ok {
		summary += ", " + formatDuration(duration)
	}

	return summary
}
