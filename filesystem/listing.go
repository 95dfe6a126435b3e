package filesystem

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

const (
	recentLayout = "Jan _2 15:04"
	oldLayout    = "Jan _2 2006"
)

// FormatListing renders entries the way `ls -l` does, one CRLF terminated line each.
// Owner and group are always 0, and so is the size of a directory. Times are shown in UTC; entries from the year of now
// carry the clock time, older ones the year.
func FormatListing(entries []Entry, now time.Time) string {
	var b strings.Builder
	year := now.UTC().Year()
	for _, e := range entries {
		t := e.ModTime.UTC()
		layout := oldLayout
		if t.Year() == year {
			layout = recentLayout
		}
		if e.IsDir {
			fmt.Fprintf(&b, "drwxr-xr-x 2 0 0 0 %s %s\r\n", t.Format(layout), e.Name)
		} else {
			fmt.Fprintf(&b, "-rw-r--r-- 1 0 0 %d %s %s\r\n", e.Size, t.Format(layout), e.Name)
		}
	}
	return b.String()
}
