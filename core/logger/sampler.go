package logger

import (
	"strconv"
	"strings"
	"sync"
)

// keyedSampler passes numerator out of every denominator events per key, so
// a chatty update kind cannot starve the debug lines of a rare one.
type keyedSampler struct {
	mu          sync.Mutex
	numerator   int
	denominator int
	counters    map[string]int
}

func newKeyedSampler(numerator, denominator int) *keyedSampler {
	s := &keyedSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set configures the ratio and resets every counter. A non-positive part
// disables sampling.
func (s *keyedSampler) Set(numerator, denominator int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if numerator <= 0 || denominator <= 0 {
		numerator, denominator = 0, 0
	}
	if numerator > denominator {
		numerator = denominator
	}
	s.numerator = numerator
	s.denominator = denominator
	s.counters = make(map[string]int)
}

// Allow reports whether the next event under key should be logged.
func (s *keyedSampler) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denominator <= 0 {
		return true
	}
	n := s.counters[key] + 1
	if n > s.denominator {
		n = 1
	}
	s.counters[key] = n
	return n <= s.numerator
}

// parseRatio accepts "n/d" or a bare "d" meaning 1/d.
func parseRatio(raw string) (int, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return n, d
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, 0
	}
	return 1, v
}
