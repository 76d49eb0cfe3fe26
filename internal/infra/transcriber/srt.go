package transcriber

import (
	"fmt"
	"strings"
	"time"
)

// FormatSRT renders timed segments as a SubRip subtitle file.
func FormatSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			srtTimestamp(seg.Start),
			srtTimestamp(seg.End),
			strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// srtTimestamp renders a duration as HH:MM:SS,mmm.
func srtTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
