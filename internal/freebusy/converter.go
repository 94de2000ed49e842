// Package freebusy converts between time ranges and the legacy Exchange
// free/busy month-block encoding, and holds the per-user free/busy sets the
// merge engine works on.
//
// A month block is the base64 of consecutive 4-byte records. Each record is
// two little-endian uint16 minute offsets (start, end) from the first
// instant of the month. Months are keyed by year*16 + month.
package freebusy

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"gcalsync/internal/daterange"
)

// ErrMalformedData reports input that does not follow the block encoding.
var ErrMalformedData = errors.New("freebusy: malformed data")

const recordSize = 4

// MonthKey returns year*16 + month for t.
func MonthKey(t time.Time) int {
	return t.Year()*16 + int(t.Month())
}

// ParseMonthKey splits a month key into year and month.
func ParseMonthKey(key int) (year int, month time.Month) {
	return key >> 4, time.Month(key & 15)
}

func validMonthKey(key int) bool {
	m := key & 15
	return m >= 1 && m <= 12
}

// MonthStart returns the first instant, in UTC, of the month a key names.
func MonthStart(key int) (time.Time, error) {
	if !validMonthKey(key) {
		return time.Time{}, fmt.Errorf("%w: month key %d has no valid month", ErrMalformedData, key)
	}
	y, m := ParseMonthKey(key)
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), nil
}

// MinuteOffset returns the minutes elapsed since the start of t's month,
// dropping seconds.
func MinuteOffset(t time.Time) int {
	return 60*(24*(t.Day()-1)+t.Hour()) + t.Minute()
}

// EncodeRanges encodes ranges into month blocks. Every valid month between
// windowStart and windowEnd gets an entry even if it has no ranges; ranges
// crossing a month boundary are split. Keys are returned ascending, with
// blocks[i] belonging to keys[i].
func EncodeRanges(windowStart, windowEnd time.Time, ranges []daterange.Range) (keys []int, blocks []string, err error) {
	months := make(map[int][]byte)

	for key := MonthKey(windowStart); key <= MonthKey(windowEnd); key++ {
		if validMonthKey(key) {
			months[key] = []byte{}
		}
	}

	for _, r := range ranges {
		if err := r.Validate(); err != nil {
			return nil, nil, err
		}
		for _, piece := range splitByMonth(r) {
			if err := addRecord(months, piece); err != nil {
				return nil, nil, err
			}
		}
	}

	keys = make([]int, 0, len(months))
	for key := range months {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	blocks = make([]string, len(keys))
	for i, key := range keys {
		blocks[i] = base64.StdEncoding.EncodeToString(months[key])
	}
	return keys, blocks, nil
}

// splitByMonth cuts r at month boundaries. Each piece but the last ends one
// second before the following month starts.
func splitByMonth(r daterange.Range) []daterange.Range {
	startKey, endKey := MonthKey(r.Start), MonthKey(r.End)
	if startKey == endKey {
		return []daterange.Range{r}
	}

	next := daterange.StartOfNextMonth(r.Start)
	pieces := []daterange.Range{daterange.New(r.Start, next.Add(-time.Second))}

	for MonthKey(next) < endKey {
		following := next.AddDate(0, 1, 0)
		pieces = append(pieces, daterange.New(next, following.Add(-time.Second)))
		next = following
	}

	return append(pieces, daterange.New(next, r.End))
}

func addRecord(months map[int][]byte, r daterange.Range) error {
	key := MonthKey(r.Start)
	if key != MonthKey(r.End) {
		return fmt.Errorf("%w: range %s crosses a month boundary", ErrMalformedData, r)
	}
	buf := months[key]
	buf = binary.LittleEndian.AppendUint16(buf, uint16(MinuteOffset(r.Start)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(MinuteOffset(r.End)))
	months[key] = buf
	return nil
}

// DecodeBlock decodes one month block into UTC ranges.
func DecodeBlock(key int, block string) ([]daterange.Range, error) {
	start, err := MonthStart(key)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(block)
	if err != nil {
		return nil, fmt.Errorf("%w: month %d: %v", ErrMalformedData, key, err)
	}
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("%w: month %d: block length %d is not a multiple of %d",
			ErrMalformedData, key, len(data), recordSize)
	}

	out := make([]daterange.Range, 0, len(data)/recordSize)
	for i := 0; i < len(data); i += recordSize {
		s := binary.LittleEndian.Uint16(data[i:])
		e := binary.LittleEndian.Uint16(data[i+2:])
		out = append(out, daterange.New(
			start.Add(time.Duration(s)*time.Minute),
			start.Add(time.Duration(e)*time.Minute),
		))
	}
	return out, nil
}

// DecodeBlocks decodes parallel key and block lists.
func DecodeBlocks(keys []int, blocks []string) ([]daterange.Range, error) {
	if len(keys) != len(blocks) {
		return nil, fmt.Errorf("%w: %d month keys but %d blocks", ErrMalformedData, len(keys), len(blocks))
	}
	var out []daterange.Range
	for i, key := range keys {
		rs, err := DecodeBlock(key, blocks[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}
