package freebusy

import (
	"time"

	"gcalsync/internal/daterange"
	"gcalsync/internal/model"
)

// ParseRasterCode maps one character of a raster string. Unknown codes,
// including '4' (no data), count as free.
func ParseRasterCode(c rune) model.BusyStatus {
	switch c {
	case '1':
		return model.Tentative
	case '2':
		return model.Busy
	case '3':
		return model.OutOfOffice
	default:
		return model.Free
	}
}

// RasterBase rounds windowStart up to the next slot boundary, which is the
// instant the first raster character describes.
func RasterBase(windowStart time.Time, intervalMinutes int) time.Time {
	interval := time.Duration(intervalMinutes) * time.Minute
	if interval <= 0 {
		return windowStart
	}
	t := windowStart.Truncate(interval)
	return t.Add(interval)
}

// ParseRaster appends the runs of a raster string to fb. Each character
// covers intervalMinutes starting at base. Busy and out-of-office runs are
// also added to fb.All.
func ParseRaster(base time.Time, intervalMinutes int, raster string, fb *FreeBusy) {
	codes := []rune(raster)
	slot := time.Duration(intervalMinutes) * time.Minute

	runStart := 0
	for i := 1; i <= len(codes); i++ {
		if i < len(codes) && codes[i] == codes[runStart] {
			continue
		}
		r := daterange.New(
			base.Add(time.Duration(runStart)*slot),
			base.Add(time.Duration(i)*slot),
		)
		switch ParseRasterCode(codes[runStart]) {
		case model.Busy:
			fb.Busy = append(fb.Busy, r)
			fb.All = append(fb.All, r)
		case model.OutOfOffice:
			fb.OutOfOffice = append(fb.OutOfOffice, r)
			fb.All = append(fb.All, r)
		case model.Tentative:
			fb.Tentative = append(fb.Tentative, r)
		}
		runStart = i
	}
}
