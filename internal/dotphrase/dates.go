package dotphrase

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISODate is the layout of every date bound handed to providers.
const ISODate = "2006-01-02"

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var (
	yearPattern      = regexp.MustCompile(`^\d{4}$`)
	yearMonthPattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
	monthYearPattern = regexp.MustCompile(`^([a-z]{3,9})[\s\-_]*(\d{4})$`)
	relativePattern  = regexp.MustCompile(`^(?:(?:last|past)[\s\-_]*)?(\d+)[\s\-_]*(d|days?|w|wks?|weeks?|m|mos?|months?|y|yrs?|years?)?$`)
)

// DateResolver turns partial or natural date expressions into ISO dates.
// Now defaults to time.Now.
type DateResolver struct {
	Now func() time.Time
}

func (r DateResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ParseNaturalDate resolves input against the wall clock. See DateResolver.Parse.
func ParseNaturalDate(input string, isRangeEnd bool) (string, bool) {
	return DateResolver{}.Parse(input, isRangeEnd)
}

// Parse accepts YYYY-MM-DD (or an RFC 3339 timestamp), YYYY-MM, YYYY,
// "Mon YYYY" and "today". Partial dates expand to the first day of the
// period, or the last day when isRangeEnd is set. Anything else returns
// false, which callers treat as "no bound".
func (r DateResolver) Parse(input string, isRangeEnd bool) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", false
	}

	switch s {
	case "today", "now":
		return r.now().Format(ISODate), true
	case "yesterday":
		return r.now().AddDate(0, 0, -1).Format(ISODate), true
	}

	if t, err := time.Parse(ISODate, s); err == nil {
		return t.Format(ISODate), true
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t.Format(ISODate), true
	}

	if yearPattern.MatchString(s) {
		year, _ := strconv.Atoi(s)
		return monthBound(year, time.January, time.December, isRangeEnd), true
	}

	if m := yearMonthPattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return "", false
		}
		return monthBound(year, time.Month(month), time.Month(month), isRangeEnd), true
	}

	if m := monthYearPattern.FindStringSubmatch(s); m != nil {
		month, ok := monthNames[m[1][:3]]
		if !ok || !isMonthName(m[1]) {
			return "", false
		}
		year, _ := strconv.Atoi(m[2])
		return monthBound(year, month, month, isRangeEnd), true
	}

	return "", false
}

// isMonthName accepts "sep", "sept" and "september" style spellings.
func isMonthName(s string) bool {
	full := []string{"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december"}
	for _, name := range full {
		if strings.HasPrefix(name, s) {
			return true
		}
	}
	return false
}

func monthBound(year int, first, last time.Month, isRangeEnd bool) string {
	if isRangeEnd {
		// Day 0 of the following month is the last day of `last`.
		return time.Date(year, last+1, 0, 0, 0, 0, 0, time.UTC).Format(ISODate)
	}
	return time.Date(year, first, 1, 0, 0, 0, 0, time.UTC).Format(ISODate)
}

// maxRelativeDays caps relative look-backs at roughly a century.
const maxRelativeDays = 36500

// ParseRelativeDays converts "30", "30d", "2w", "6m", "1y", "last-6-months"
// or "past 2 weeks" into a day count. Months count as 30 days, years as 365.
// Results are clamped to maxRelativeDays.
func ParseRelativeDays(input string) (int, bool) {
	m := relativePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(input)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	unit := 365
	switch {
	case m[2] == "", strings.HasPrefix(m[2], "d"):
		unit = 1
	case strings.HasPrefix(m[2], "w"):
		unit = 7
	case strings.HasPrefix(m[2], "m"):
		unit = 30
	}
	return clampDays(n, unit), true
}

// clampDays returns n*unit bounded by maxRelativeDays without overflowing.
func clampDays(n, unit int) int {
	if n > maxRelativeDays/unit {
		return maxRelativeDays
	}
	return n * unit
}

// looksLikeYear reports whether a bare integer segment names a calendar
// year rather than a day count.
func looksLikeYear(s string) bool {
	if !yearPattern.MatchString(s) {
		return false
	}
	y, _ := strconv.Atoi(s)
	return y >= 1900 && y <= 2100
}
