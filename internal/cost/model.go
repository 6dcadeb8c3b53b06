// Package cost prices generation requests. It is pure policy: no I/O, no
// clock, deterministic for a given table. It must only ever run server-side;
// anything cost-like in a client payload is stripped before it gets here.
package cost

import (
	"math"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// MaxDurationSeconds caps caller-reported durations before pricing.
const MaxDurationSeconds = 1800

// DefaultUnknownKindCredits is charged for kinds absent from the table.
// Fail-open on purpose: a new kind rolled out ahead of a table update is
// billed at the default instead of being blocked.
const DefaultUnknownKindCredits = 0.25

// Params carries the payload fields pricing depends on.
type Params struct {
	DurationSeconds float64
}

// Entry prices one kind. Flat credits when PerSecond is zero, otherwise
// duration-proportional with MinCredits as the floor for short clips.
type Entry struct {
	Flat       float64 `yaml:"flat"`
	PerSecond  float64 `yaml:"per_second"`
	MinCredits float64 `yaml:"min_credits"`
}

// Model maps kinds to price entries.
type Model struct {
	table map[domain.Kind]Entry
}

// NewModel returns a model with the built-in price table.
func NewModel() *Model {
	return &Model{table: map[domain.Kind]Entry{
		domain.KindFirstFrame: {Flat: 0.10},
		domain.KindFrame:      {Flat: 0.10},
		domain.KindScript:     {Flat: 0.25},
		domain.KindAnimate:    {Flat: 1.00},
		domain.KindLipSync:    {PerSecond: 0.15, MinCredits: 0.15},
		domain.KindSpeech:     {PerSecond: 0.02, MinCredits: 0.05},
		domain.KindBRoll:      {PerSecond: 0.10, MinCredits: 0.10},
	}}
}

// Compute returns the credit cost for a request. Never negative, never an
// error; unknown kinds fall back to DefaultUnknownKindCredits.
func (m *Model) Compute(kind domain.Kind, p Params) float64 {
	entry, ok := m.table[kind]
	if !ok {
		return DefaultUnknownKindCredits
	}
	if entry.PerSecond == 0 {
		return roundUpCents(entry.Flat)
	}
	d := p.DurationSeconds
	if d < 0 {
		d = 0
	}
	if d > MaxDurationSeconds {
		d = MaxDurationSeconds
	}
	credits := d * entry.PerSecond
	if credits < entry.MinCredits {
		credits = entry.MinCredits
	}
	return roundUpCents(credits)
}

func roundUpCents(credits float64) float64 {
	return math.Ceil(credits*100-1e-9) / 100
}
