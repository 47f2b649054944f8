package naming

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestWorkbookName(t *testing.T) {
	tests := []struct {
		name  string
		start *time.Time
		end   *time.Time
		want  string
	}{
		{
			"both bounds",
			date(2024, time.January, 1), date(2024, time.January, 31),
			"Emails 01-01-2024 - 31-01-2024.xlsx",
		},
		{
			"open start",
			nil, date(2024, time.January, 31),
			"Emails Start - 31-01-2024.xlsx",
		},
		{
			"open end",
			date(2024, time.January, 1), nil,
			"Emails 01-01-2024 - Now.xlsx",
		},
		{
			"fully open",
			nil, nil,
			"Emails Start - Now.xlsx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorkbookName(tt.start, tt.end); got != tt.want {
				t.Errorf("WorkbookName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAttachmentRootName(t *testing.T) {
	got := AttachmentRootName(date(2024, time.March, 5), date(2024, time.March, 9))
	want := "Attachments 05-03-2024 - 09-03-2024"
	if got != want {
		t.Errorf("AttachmentRootName() = %q, want %q", got, want)
	}
}

func TestRangeLabelDeterministic(t *testing.T) {
	start, end := date(2024, time.June, 1), date(2024, time.June, 30)
	first := RangeLabel(start, end)
	for i := 0; i < 3; i++ {
		if got := RangeLabel(start, end); got != first {
			t.Fatalf("RangeLabel not deterministic: %q vs %q", got, first)
		}
	}
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"plain", "Quarterly report", 60, "Quarterly report"},
		{"reserved chars", `Re: invoice <final>?`, 60, "Re_ invoice _final_"},
		{"path separators", `a/b\c`, 60, "a_b_c"},
		{"whitespace collapses", "too   many\tspaces", 60, "too many spaces"},
		{"trailing dots trimmed", "ends with dots...", 60, "ends with dots"},
		{"truncated", "abcdefghij", 4, "abcd"},
		{"empty", "", 60, "no_subject"},
		{"only reserved", "???", 60, "_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeComponent(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeComponent(%q, %d) = %q, want %q",
					tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestDedupPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Emails 01-01-2024 - 31-01-2024.xlsx")

	if got := DedupPath(path); got != path {
		t.Fatalf("free path changed: %q", got)
	}

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	want2 := filepath.Join(dir, "Emails 01-01-2024 - 31-01-2024 (2).xlsx")
	if got := DedupPath(path); got != want2 {
		t.Fatalf("first collision = %q, want %q", got, want2)
	}

	if err := os.WriteFile(want2, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	want3 := filepath.Join(dir, "Emails 01-01-2024 - 31-01-2024 (3).xlsx")
	if got := DedupPath(path); got != want3 {
		t.Fatalf("second collision = %q, want %q", got, want3)
	}
}
