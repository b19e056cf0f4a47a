package beodesk

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// filenameDate matches "MMDD DayName.pdf", e.g. "1028 Tuesday.pdf".
var filenameDate = regexp.MustCompile(`(?i)^(\d{2})(\d{2})\s+(\w+)\.pdf`)

// rolloverDays is how far in the past a filename date may fall before it is
// taken to mean next year.
const rolloverDays = 180

// ParseFilenameDate extracts an event date from an upload's filename. The year
// is now's year unless that date lies more than 180 days before now, in which
// case it is next year. The weekday name in the filename is not checked
// against the date.
func ParseFilenameDate(name string, now time.Time) (time.Time, bool) {
	m := filenameDate.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])

	d, ok := civilDate(now.Year(), month, day)
	if !ok {
		return time.Time{}, false
	}
	if int(now.Sub(d).Hours()/24) > rolloverDays {
		if d, ok = civilDate(now.Year()+1, month, day); !ok {
			return time.Time{}, false
		}
	}
	return d, true
}

// civilDate builds midnight UTC of the given date, rejecting dates that
// time.Date would normalize (Feb 30, month 13).
func civilDate(year, month, day int) (time.Time, bool) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

var eventDateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339}

// ParseEventDate parses a caller-supplied date ("2025-10-28" or
// "2025-10-28T00:00:00") and truncates it to the calendar day.
func ParseEventDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: event date %q", ErrInvalidInput, s)
}

// truncateDay returns midnight UTC of t's calendar date.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dateLayout = "2006-01-02"
