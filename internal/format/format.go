package format

import (
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// BitText renders a byte count the way the download list shows it.
func BitText(size int64) string {
	if size < 900 {
		return strconv.FormatInt(size, 10) + "B"
	}
	kb := float64(size) / 1024
	if kb < 900 {
		return strconv.FormatFloat(kb, 'f', 2, 64) + "KB"
	}
	return strconv.FormatFloat(kb/1024, 'f', 2, 64) + "MB"
}

func YMD(t time.Time) string {
	return t.In(time.Local).Format(dateLayout)
}

func UTCYMD(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseYMD parses a calendar day at local midnight.
func ParseYMD(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, raw, time.Local)
}
