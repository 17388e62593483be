// Package params holds operator settings and live measurements read by the
// control cycle.
package params

import (
	"math"
	"strconv"
	"strings"
	"sync"
)

// Provider supplies operator settings and measurements. Every accessor
// returns fallback when the key is absent or holds a value of another kind.
type Provider interface {
	Number(key string, fallback float64) float64
	Text(key string, fallback string) string
	Bool(key string, fallback bool) bool
}

// Store is an in-memory Provider safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	numbers map[string]float64
	texts   map[string]string
	bools   map[string]bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		numbers: map[string]float64{},
		texts:   map[string]string{},
		bools:   map[string]bool{},
	}
}

// Number returns the stored number. NaN counts as absent.
func (s *Store) Number(key string, fallback float64) float64 {
	s.mu.RLock()
	v, ok := s.numbers[key]
	s.mu.RUnlock()
	if !ok || math.IsNaN(v) {
		return fallback
	}
	return v
}

func (s *Store) Text(key string, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.texts[key]; ok {
		return v
	}
	return fallback
}

func (s *Store) Bool(key string, fallback bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.bools[key]; ok {
		return v
	}
	return fallback
}

// SetNumber stores a number under key, replacing a value of any kind. NaN
// and infinities mark the value unavailable and remove the key.
func (s *Store) SetNumber(key string, v float64) {
	s.mu.Lock()
	s.clear(key)
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		s.numbers[key] = v
	}
	s.mu.Unlock()
}

// SetText stores a text under key, replacing a value of any kind.
func (s *Store) SetText(key, v string) {
	s.mu.Lock()
	s.clear(key)
	s.texts[key] = v
	s.mu.Unlock()
}

// SetBool stores a switch under key, replacing a value of any kind.
func (s *Store) SetBool(key string, v bool) {
	s.mu.Lock()
	s.clear(key)
	s.bools[key] = v
	s.mu.Unlock()
}

// Set stores v according to its dynamic type. Unsupported types are ignored
// and reported as false.
func (s *Store) Set(key string, v any) bool {
	switch t := v.(type) {
	case float64:
		s.SetNumber(key, t)
	case float32:
		s.SetNumber(key, float64(t))
	case int:
		s.SetNumber(key, float64(t))
	case int64:
		s.SetNumber(key, float64(t))
	case bool:
		s.SetBool(key, t)
	case string:
		s.SetText(key, t)
	default:
		return false
	}
	return true
}

// SetRaw parses a textual payload: a number first, then a switch state
// ("on", "off", "true", "false"), otherwise the text itself.
func (s *Store) SetRaw(key, payload string) {
	p := strings.TrimSpace(payload)
	if f, err := strconv.ParseFloat(p, 64); err == nil {
		s.SetNumber(key, f)
		return
	}
	switch strings.ToLower(p) {
	case "on", "true":
		s.SetBool(key, true)
		return
	case "off", "false":
		s.SetBool(key, false)
		return
	}
	s.SetText(key, p)
}

// Delete removes key so accessors fall back again.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	s.clear(key)
	s.mu.Unlock()
}

// Snapshot returns a copy of every stored value.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.numbers)+len(s.texts)+len(s.bools))
	for k, v := range s.numbers {
		out[k] = v
	}
	for k, v := range s.texts {
		out[k] = v
	}
	for k, v := range s.bools {
		out[k] = v
	}
	return out
}

func (s *Store) clear(key string) {
	delete(s.numbers, key)
	delete(s.texts, key)
	delete(s.bools, key)
}
