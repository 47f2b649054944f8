// Package naming derives output file and folder names from the active
// date range and keeps generated paths filesystem-safe.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "02-01-2006"

// Sentinel tokens substituted for open date bounds.
const (
	SentinelStart = "Start"
	SentinelNow   = "Now"
)

// RangeLabel renders the date range as "<start> - <end>" with DD-MM-YYYY
// dates, substituting sentinel tokens for open bounds. Deterministic:
// the same range always yields the same label.
func RangeLabel(start, end *time.Time) string {
	from := SentinelStart
	if start != nil {
		from = start.Format(dateLayout)
	}
	to := SentinelNow
	if end != nil {
		to = end.Format(dateLayout)
	}
	return from + " - " + to
}

// WorkbookName returns the workbook file name for the range, e.g.
// "Emails 01-01-2024 - 31-01-2024.xlsx".
func WorkbookName(start, end *time.Time) string {
	return "Emails " + RangeLabel(start, end) + ".xlsx"
}

// AttachmentRootName returns the attachment root folder name for the
// range, e.g. "Attachments 01-01-2024 - 31-01-2024".
func AttachmentRootName(start, end *time.Time) string {
	return "Attachments " + RangeLabel(start, end)
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]+`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SanitizeComponent makes a string usable as a single path component:
// reserved characters become underscores, whitespace collapses, and the
// result is trimmed to maxLen. Empty input yields "no_subject".
func SanitizeComponent(s string, maxLen int) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
	s = strings.TrimRight(s, ". ")
	if len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], " ")
	}
	if s == "" {
		return "no_subject"
	}
	return s
}

// DedupPath returns path unchanged if nothing exists there, otherwise
// the first "<base> (n)<ext>" variant that is free. Existing files are
// never clobbered.
func DedupPath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
