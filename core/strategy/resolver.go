// Package strategy turns the operator's strategy selection into one concrete
// strategy for the current cycle.
package strategy

import (
	"time"

	"github.com/kilianp07/marstek/core/model"
	"github.com/kilianp07/marstek/core/params"
)

const (
	defaultText         = "Self-consumption"
	defaultDynCheapest  = "Charge"
	defaultDynExpensive = "Sell"
	minutesPerHour      = 60
)

// Clock returns the current time and whether it is trustworthy.
type Clock func() (time.Time, bool)

// SystemClock always reports a valid wall clock time.
func SystemClock() (time.Time, bool) { return time.Now(), true }

// Resolver resolves meta strategies. It is stateless apart from its inputs.
type Resolver struct {
	params params.Provider
	clock  Clock
}

// NewResolver returns a resolver reading settings from p. A nil clock uses
// SystemClock.
func NewResolver(p params.Provider, clock Clock) *Resolver {
	if clock == nil {
		clock = SystemClock
	}
	return &Resolver{params: p, clock: clock}
}

// Resolve returns the concrete strategy for now. The result is never TIMED
// or DYNAMIC.
func (r *Resolver) Resolve() model.Strategy {
	base := model.ParseStrategy(r.params.Text(params.KeyStrategy, defaultText))
	switch base {
	case model.StrategyTimed:
		return r.resolveTimed()
	case model.StrategyDynamic:
		return r.resolveDynamic()
	default:
		return base
	}
}

type window struct {
	text       string
	start, end string
	enabled    string
}

var timedWindows = []window{
	{text: params.KeyTimedA, start: params.KeyPeriodAStart, end: params.KeyPeriodAEnd},
	{text: params.KeyTimedB, start: params.KeyPeriodBStart, end: params.KeyPeriodBEnd, enabled: params.KeyTimedHasB},
	{text: params.KeyTimedC, start: params.KeyPeriodCStart, end: params.KeyPeriodCEnd, enabled: params.KeyTimedHasC},
}

func (r *Resolver) resolveTimed() model.Strategy {
	now, ok := r.clock()
	if !ok {
		return r.sub(params.KeyTimedDefault, defaultText)
	}
	minutes := now.Hour()*minutesPerHour + now.Minute()
	for _, w := range timedWindows {
		if w.enabled != "" && !r.params.Bool(w.enabled, false) {
			continue
		}
		start := r.minutes(w.start)
		end := r.minutes(w.end)
		if InWindow(minutes, start, end) {
			return r.sub(w.text, defaultText)
		}
	}
	return r.sub(params.KeyTimedDefault, defaultText)
}

func (r *Resolver) resolveDynamic() model.Strategy {
	p := r.params
	avgCheapest := p.Number(params.KeyDynAvgCheapest, 0)
	avgExpensive := p.Number(params.KeyDynAvgExpensive, 0)
	thresholdCheapest := p.Number(params.KeyDynThresholdCheapest, 0)
	thresholdDelta := p.Number(params.KeyDynThresholdDelta, 0)

	var inCheapest, inExpensive bool
	if now, ok := r.clock(); ok {
		ts := float64(now.Unix())
		inCheapest = ts >= p.Number(params.KeyDynCheapestStart, 0) && ts < p.Number(params.KeyDynCheapestEnd, 0)
		inExpensive = ts >= p.Number(params.KeyDynExpensiveStart, 0) && ts < p.Number(params.KeyDynExpensiveEnd, 0)
	}

	if inCheapest && avgCheapest <= thresholdCheapest {
		return r.sub(params.KeyDynCheapest, defaultDynCheapest)
	}
	if inExpensive && avgExpensive-avgCheapest >= thresholdDelta {
		return r.sub(params.KeyDynExpensive, defaultDynExpensive)
	}
	return r.sub(params.KeyDynDefault, defaultText)
}

func (r *Resolver) sub(key, fallback string) model.Strategy {
	return model.ParseSubStrategy(r.params.Text(key, fallback))
}

// minutes truncates the configured bound toward zero.
func (r *Resolver) minutes(key string) int {
	return int(r.params.Number(key, 0))
}

// InWindow reports whether minute now lies in [start, end). A window with
// start after end wraps past midnight; start == end never matches.
func InWindow(now, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}
