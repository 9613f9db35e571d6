// Package util contains misc internal utilities.
package util

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// AllElementsNumbers returns true if every rune of s is a digit or a decimal point
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// ParseDuration is time.ParseDuration, except bare numbers such as "0.1" are
// taken to be seconds
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if AllElementsNumbers(s) {
		s = s + "s"
	}
	return time.ParseDuration(s)
}

// Clamp limits x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// UniqueString returns the unique elements of a slice of strings, in order of first appearance
func UniqueString(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := []string{}
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
