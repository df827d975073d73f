package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	errNotEpoch    = errors.New("not epoch seconds")
	errNotDateTime = errors.New("not a recognized date-time")

	dateTimeLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006 15:04",
		"01/02/2006",
	}
)

// ParseTimestamp resolves a timestamp as epoch seconds first and falls
// back to a generic date-time parse. Both failures are reported.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errEmpty
	}

	t, epochErr := parseEpoch(s)
	if epochErr == nil {
		return t, nil
	}

	t, dtErr := parseDateTime(s)
	if dtErr == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w; %w", epochErr, dtErr)
}

func parseEpoch(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return time.Time{}, errNotEpoch
	}

	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errNotDateTime
}
