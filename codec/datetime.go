package codec

import (
	"time"

	"github.com/tomyedwab/fbdriver/dberr"
)

const (
	// dayOffset moves the proleptic Gregorian day number so that 1858-11-17 is day zero.
	dayOffset = 678882

	// TicksPerSecond is the resolution of an encoded time of day.
	TicksPerSecond = 10000

	ticksPerDay = 24 * 60 * 60 * TicksPerSecond
)

// MinDate and MaxDate bound the dates the codec accepts.
var (
	MinDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxDate = time.Date(9999, time.December, 31, 23, 59, 59, 999900000, time.UTC)
)

// EncodeDay returns the day count of the given calendar date.
func EncodeDay(year, month, day int) int32 {
	if month > 2 {
		month -= 3
	} else {
		month += 9
		year--
	}
	c := year / 100
	ya := year - 100*c
	return int32((146097*c)/4+(1461*ya)/4+(153*month+2)/5+day) - dayOffset
}

// DecodeDay is the inverse of EncodeDay.
func DecodeDay(n int32) (year, month, day int) {
	nday := int(n) + dayOffset
	century := (4*nday - 1) / 146097
	nday = 4*nday - 1 - 146097*century
	d := nday / 4

	nday = (4*d + 3) / 1461
	d = 4*d + 3 - 1461*nday
	d = (d + 4) / 4

	m := (5*d - 3) / 153
	d = 5*d - 3 - 153*m
	d = (d + 5) / 5

	y := 100*century + nday
	if m < 10 {
		m += 3
	} else {
		m -= 9
		y++
	}
	return y, m, d
}

// EncodeDate returns the day count of t's calendar date. The clock part is ignored.
func EncodeDate(t time.Time) (int32, error) {
	y, m, d := t.Date()
	if y < 1 || y > 9999 {
		return 0, dberr.NewDataError("date %s is outside the supported range", t.Format("2006-01-02"))
	}
	return EncodeDay(y, int(m), d), nil
}

// DecodeDate returns the date for a day count, at midnight in loc (UTC when nil).
func DecodeDate(n int32, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := DecodeDay(n)
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
}

// EncodeClock returns the number of ticks since midnight.
func EncodeClock(hour, min, sec, frac int) uint32 {
	return uint32(((hour*60+min)*60+sec)*TicksPerSecond + frac)
}

// DecodeClock is the inverse of EncodeClock.
func DecodeClock(ticks uint32) (hour, min, sec, frac int) {
	t := int(ticks)
	frac = t % TicksPerSecond
	t /= TicksPerSecond
	sec = t % 60
	t /= 60
	min = t % 60
	hour = t / 60
	return
}

// EncodeTime returns the time of day of t in ticks. Sub-tick precision is truncated.
func EncodeTime(t time.Time) uint32 {
	h, m, s := t.Clock()
	return EncodeClock(h, m, s, t.Nanosecond()/100000)
}

// DecodeTime returns the time of day as a time on 0001-01-01 in loc (UTC when nil).
func DecodeTime(ticks uint32, loc *time.Location) (time.Time, error) {
	if ticks >= ticksPerDay {
		return time.Time{}, dberr.NewDataError("time value %d exceeds one day", ticks)
	}
	if loc == nil {
		loc = time.UTC
	}
	h, m, s, f := DecodeClock(ticks)
	return time.Date(1, time.January, 1, h, m, s, f*100000, loc), nil
}

// EncodeTimestamp packs t as a little-endian day count followed by a
// little-endian tick count.
func EncodeTimestamp(t time.Time) ([]byte, error) {
	day, err := EncodeDate(t)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	PutLE(buf[:4], uint64(uint32(day)))
	PutLE(buf[4:], uint64(EncodeTime(t)))
	return buf, nil
}

// DecodeTimestamp unpacks an 8-byte timestamp.
func DecodeTimestamp(b []byte, loc *time.Location) (time.Time, error) {
	if len(b) < 8 {
		return time.Time{}, dberr.NewInternalError("timestamp buffer has %d bytes, want 8", len(b))
	}
	if loc == nil {
		loc = time.UTC
	}
	y, mo, d := DecodeDay(int32(DecodeLE(b[:4])))
	ticks := uint32(DecodeULE(b[4:8]))
	if ticks >= ticksPerDay {
		return time.Time{}, dberr.NewDataError("time value %d exceeds one day", ticks)
	}
	h, m, s, f := DecodeClock(ticks)
	return time.Date(y, time.Month(mo), d, h, m, s, f*100000, loc), nil
}
