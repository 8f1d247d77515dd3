package ftpback

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/blockvault/barc/internal/storage"
)

// months maps every full English month name and three-letter abbreviation
// a server's LIST output may use to a 1-12 month number.
var months = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6, "jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// ParseDirectoryLine recognizes the three raw LIST-line dialects FTP
// servers commonly emit, tried in order:
//
//  1. perms * * * size YYYY-MM-DD HH:MM name
//  2. perms * * * size MON DD HH:MM name     (current year assumed)
//  3. perms * * * size MON DD YYYY name
//
// A line matching none of these is reported unparsed (ok=false) and
// skipped by the caller. Permission bytes are compared with exact
// equality throughout.
func ParseDirectoryLine(line string, now time.Time) (storage.FileInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return storage.FileInfo{}, false
	}

	perms := fields[0]
	sizeField := fields[4]
	size, err := strconv.ParseInt(sizeField, 10, 64)
	if err != nil {
		return storage.FileInfo{}, false
	}

	var modTime time.Time
	var nameStart int

	if t, ok := parseISODialect(fields); ok {
		modTime = t
		nameStart = 7
	} else if t, ok := parseMonthDayTimeDialect(fields, now.Year()); ok {
		modTime = t
		nameStart = 8
	} else if t, ok := parseMonthDayYearDialect(fields); ok {
		modTime = t
		nameStart = 8
	} else {
		return storage.FileInfo{}, false
	}

	name := strings.Join(fields[nameStart:], " ")
	if name == "" || name == "." || name == ".." {
		return storage.FileInfo{}, false
	}

	return storage.FileInfo{
		Name:    name,
		Size:    size,
		ModTime: modTime,
		IsDir:   len(perms) > 0 && perms[0] == 'd',
	}, true
}

// parseISODialect matches "YYYY-MM-DD HH:MM" in fields[5:7].
func parseISODialect(fields []string) (time.Time, bool) {
	dateParts := strings.Split(fields[5], "-")
	if len(dateParts) != 3 {
		return time.Time{}, false
	}
	year, err1 := strconv.Atoi(dateParts[0])
	month, err2 := strconv.Atoi(dateParts[1])
	day, err3 := strconv.Atoi(dateParts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	hour, minute, ok := parseClock(fields[6])
	if !ok {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.Local), true
}

// parseMonthDayTimeDialect matches "MON DD HH:MM", with the current year
// assumed (no year appears in this dialect).
func parseMonthDayTimeDialect(fields []string, assumedYear int) (time.Time, bool) {
	month, ok := months[strings.ToLower(fields[5])]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[6])
	if err != nil {
		return time.Time{}, false
	}
	hour, minute, ok := parseClock(fields[7])
	if !ok {
		return time.Time{}, false
	}
	return time.Date(assumedYear, time.Month(month), day, hour, minute, 0, 0, time.Local), true
}

// parseMonthDayYearDialect matches "MON DD YYYY".
func parseMonthDayYearDialect(fields []string) (time.Time, bool) {
	month, ok := months[strings.ToLower(fields[5])]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[6])
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[7])
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local), true
}

func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return h, m, true
}

// dirLister adapts the jlaffaye/ftp client's own LIST response parsing
// (it already returns typed *ftp.Entry values for every dialect it
// recognizes, covering the common case more robustly than re-parsing raw
// text over the wire would) into storage.DirLister. ParseDirectoryLine
// above is exercised directly by its own tests as the line-level parser;
// it has no further caller here because jlaffaye/ftp does not expose the
// raw LIST response text this backend would need to feed it. It stands
// ready to back a raw-LIST path if a lower-level client is substituted.
type dirLister struct {
	entries []*ftp.Entry
	idx     int
}

func (d *dirLister) Next() (storage.FileInfo, error) {
	if d.idx >= len(d.entries) {
		return storage.FileInfo{}, io.EOF
	}
	e := d.entries[d.idx]
	d.idx++
	return storage.FileInfo{
		Name:    e.Name,
		Size:    int64(e.Size),
		ModTime: e.Time,
		IsDir:   e.Type == ftp.EntryTypeFolder,
	}, nil
}

func (d *dirLister) Close() error { return nil }
