package ratelimiter

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

const secondsOfOneDay = 24 * 3600

var timeOfDay = regexp.MustCompile(`^(\d\d):(\d\d)$`)

// ComputeTTL returns how long a bucket created at now should live.
//
// Without a valid ExpiredAt the fixed TTL is returned. Otherwise the result is the
// whole number of seconds until the next ExpiredAt wall-clock time, in now's location.
// A target equal to now yields 0; a target already passed today wraps to tomorrow.
// Redis would delete a key given EXPIRE 0, so the Redis store stretches 0 to one second.
func ComputeTTL(opts Options, now time.Time) time.Duration {
	m := timeOfDay.FindStringSubmatch(opts.ExpiredAt)
	if m == nil {
		return opts.TTL
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])

	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	offset := int64(math.Floor(target.Sub(now).Seconds()))
	if offset < 0 {
		offset += secondsOfOneDay
	}
	return time.Duration(offset) * time.Second
}
