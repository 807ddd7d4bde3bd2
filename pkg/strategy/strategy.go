// Copyright 2025 Procura Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package strategy decides how much of a vendor recommendation to buy.
//
// Strategies are pure functions over the current coverage picture:
// identical inputs produce identical outputs. The global coverage cap is
// not enforced here; the scheduler clamps projections against it after
// the strategy has sized the purchase.
package strategy

import (
	"fmt"

	"github.com/nextdoor/procura/pkg/config"
)

// Input is the coverage picture a strategy decides on.
type Input struct {
	// CurrentPercent is the effective coverage for the category.
	CurrentPercent float64

	// TargetPercent is the coverage the operator wants to reach.
	TargetPercent float64

	// RecommendedHourly is the vendor-recommended commitment in $/hour.
	RecommendedHourly float64

	// PercentPerHourly is how many coverage percentage points one $/hour
	// of commitment adds. Zero means the denominator is unknown; the full
	// recommendation is then assumed to exactly close the gap to target.
	PercentPerHourly float64
}

// projectedFullGain returns the percentage points the full recommendation
// is expected to add.
func (in Input) projectedFullGain() float64 {
	if in.PercentPerHourly > 0 {
		return in.RecommendedHourly * in.PercentPerHourly
	}
	return in.TargetPercent - in.CurrentPercent
}

// Decision is the sized purchase, with a human-readable reason carried
// into logs and notifications.
type Decision struct {
	// Hourly is the commitment to purchase in $/hour. Zero means no
	// action.
	Hourly float64

	Reason string
}

// Strategy sizes a purchase from a recommendation.
type Strategy interface {
	Name() string
	Decide(in Input) Decision
}

// skip returns the no-action decision shared by all strategies, or false
// when the preconditions pass.
func skip(in Input) (Decision, bool) {
	if in.RecommendedHourly <= 0 {
		return Decision{Reason: "no vendor recommendation"}, true
	}
	if in.CurrentPercent >= in.TargetPercent {
		return Decision{Reason: fmt.Sprintf("coverage %.2f%% already at or above target %.2f%%",
			in.CurrentPercent, in.TargetPercent)}, true
	}
	return Decision{}, false
}

// Fixed buys a fixed fraction of every recommendation.
type Fixed struct {
	// MaxPurchasePercent is the fraction bought, in (0,100].
	MaxPurchasePercent float64
}

func (s *Fixed) Name() string { return "fixed" }

func (s *Fixed) Decide(in Input) Decision {
	if d, skipped := skip(in); skipped {
		return d
	}
	fraction := s.MaxPurchasePercent / 100
	return Decision{
		Hourly: in.RecommendedHourly * fraction,
		Reason: fmt.Sprintf("fixed %.1f%% of recommended $%.4f/h", s.MaxPurchasePercent, in.RecommendedHourly),
	}
}

// Dichotomy halves the purchase fraction until the projected coverage no
// longer overshoots the target, clamped to a minimum fraction. Slight
// overshoot at the minimum is acceptable; the global cap is the final
// safety net.
type Dichotomy struct {
	MaxPurchasePercent float64
	MinPurchasePercent float64
}

func (s *Dichotomy) Name() string { return "dichotomy" }

func (s *Dichotomy) Decide(in Input) Decision {
	if d, skipped := skip(in); skipped {
		return d
	}

	fullGain := in.projectedFullGain()
	fraction := s.MaxPurchasePercent / 100
	minFraction := s.MinPurchasePercent / 100
	clamped := false

	// Exact equality with the target is acceptable, so halve only while
	// the projection strictly exceeds it.
	for in.CurrentPercent+fraction*fullGain > in.TargetPercent {
		fraction /= 2
		if fraction < minFraction {
			fraction = minFraction
			clamped = true
			break
		}
	}

	reason := fmt.Sprintf("dichotomy settled at %.2f%% of recommended $%.4f/h",
		fraction*100, in.RecommendedHourly)
	if clamped {
		reason = fmt.Sprintf("dichotomy clamped to minimum %.2f%% of recommended $%.4f/h",
			s.MinPurchasePercent, in.RecommendedHourly)
	}
	return Decision{
		Hourly: in.RecommendedHourly * fraction,
		Reason: reason,
	}
}

// Conservative skips purchases while the coverage gap is below a
// threshold, then behaves like Fixed.
type Conservative struct {
	MinGapThreshold    float64
	MaxPurchasePercent float64
}

func (s *Conservative) Name() string { return "conservative" }

func (s *Conservative) Decide(in Input) Decision {
	if d, skipped := skip(in); skipped {
		return d
	}

	gap := in.TargetPercent - in.CurrentPercent
	if gap < s.MinGapThreshold {
		return Decision{Reason: fmt.Sprintf("coverage gap %.2f%% below threshold %.2f%%",
			gap, s.MinGapThreshold)}
	}

	fixed := Fixed{MaxPurchasePercent: s.MaxPurchasePercent}
	d := fixed.Decide(in)
	d.Reason = fmt.Sprintf("conservative: gap %.2f%% >= threshold %.2f%%, %s",
		gap, s.MinGapThreshold, d.Reason)
	return d
}

// FromConfig builds the configured strategy variant.
func FromConfig(cfg config.StrategyConfig) (Strategy, error) {
	switch cfg.Variant {
	case "fixed":
		return &Fixed{MaxPurchasePercent: cfg.Fixed.MaxPurchasePercent}, nil
	case "dichotomy":
		return &Dichotomy{
			MaxPurchasePercent: cfg.Dichotomy.MaxPurchasePercent,
			MinPurchasePercent: cfg.Dichotomy.MinPurchasePercent,
		}, nil
	case "conservative":
		return &Conservative{
			MinGapThreshold:    cfg.Conservative.MinGapThreshold,
			MaxPurchasePercent: cfg.Conservative.MaxPurchasePercent,
		}, nil
	}
	return nil, fmt.Errorf("unknown strategy variant %q", cfg.Variant)
}
