package custody

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Day-first layouts win over month-first; custodian exports are day-first.
var dateLayouts = []string{
	dateLayout,
	"2006/01/02",
	"2006.01.02",
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2-1-2006",
	"2/1/2006",
	"20060102",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02-Jan-06",
	"Jan 2, 2006",
	"January 2, 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
}

// Spreadsheet serial day zero.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a calendar date in any of the supported layouts and
// returns midnight UTC of that day. Five-digit integers are read as
// spreadsheet serial dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if len(s) == 5 {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return excelEpoch.AddDate(0, 0, n), nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type namePattern struct {
	re       *regexp.Regexp
	dayFirst bool
}

var namePatterns = []namePattern{
	{regexp.MustCompile(`(\d{4})[-_.](\d{2})[-_.](\d{2})`), false},
	{regexp.MustCompile(`(\d{2})[-_.](\d{2})[-_.](\d{4})`), true},
	{regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`), false},
	{regexp.MustCompile(`(\d{2})(\d{2})(\d{4})`), true},
}

// DateFromName pulls a record date out of a file or collection name such as
// "axis_eod_custody_2025-06-25.xlsx" or "orbisCustody25_06_2025".
func DateFromName(name string) (time.Time, bool) {
	for _, p := range namePatterns {
		for _, m := range p.re.FindAllStringSubmatch(name, -1) {
			y, mo, d := m[1], m[2], m[3]
			if p.dayFirst {
				y, d = m[3], m[1]
			}
			t, err := time.Parse(dateLayout, y+"-"+mo+"-"+d)
			if err != nil {
				continue
			}
			if t.Year() < 1990 || t.Year() > 2100 {
				continue
			}
			return t, true
		}
	}
	return time.Time{}, false
}
