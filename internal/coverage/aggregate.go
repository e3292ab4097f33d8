// Package coverage reduces converted ping data to swath coverage
// figures: per-mode across-track and depth envelopes plus swath width
// statistics, grouped by the acquisition settings active when each
// ping was transmitted.
package coverage

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"example.com/swathconv/internal/swath"
)

// Key groups pings by the settings that shape coverage. Two pings fall
// in the same group only when all three match exactly.
type Key struct {
	PingMode    swath.PingMode  `json:"pingMode"`
	SwathMode   swath.SwathMode `json:"swathMode"`
	FrequencyHz float64         `json:"frequencyHz"`
}

// Extent is the accumulated coverage envelope of one group. Across and
// depth bounds come from valid soundings only; widths carries one
// entry per contributing ping for the width statistics.
type Extent struct {
	Pings      int     `json:"pings"`
	Soundings  int     `json:"soundings"`
	MinAcrossM float64 `json:"minAcrossM"`
	MaxAcrossM float64 `json:"maxAcrossM"`
	MinDepthM  float64 `json:"minDepthM"`
	MaxDepthM  float64 `json:"maxDepthM"`

	widths []float64
}

// WidthStats returns the mean and standard deviation of per-ping swath
// widths in the group.
func (e *Extent) WidthStats() (mean, stddev float64) {
	if len(e.widths) == 0 {
		return 0, 0
	}
	mean, stddev = stat.MeanStdDev(e.widths, nil)
	if math.IsNaN(stddev) {
		stddev = 0
	}
	return mean, stddev
}

// Group pairs a key with its accumulated extent.
type Group struct {
	Key    Key
	Extent *Extent
}

// Aggregator accumulates coverage envelopes across pings, models, and
// other aggregators. Accumulation is associative: merging per-file
// aggregators in any order yields the same groups as feeding every
// ping into one.
type Aggregator struct {
	groups map[Key]*Extent
}

func NewAggregator() *Aggregator {
	return &Aggregator{groups: make(map[Key]*Extent)}
}

// AddPing folds one ping into its group. Pings with no valid soundings
// contribute nothing, not even to the ping count.
func (a *Aggregator) AddPing(p *swath.LogicalPing) {
	minAcross := math.Inf(1)
	maxAcross := math.Inf(-1)
	minDepth := math.Inf(1)
	maxDepth := math.Inf(-1)
	valid := 0
	for i := range p.Soundings {
		s := &p.Soundings[i]
		if !s.Valid {
			continue
		}
		valid++
		minAcross = math.Min(minAcross, s.AcrossM)
		maxAcross = math.Max(maxAcross, s.AcrossM)
		minDepth = math.Min(minDepth, s.DepthM)
		maxDepth = math.Max(maxDepth, s.DepthM)
	}
	if valid == 0 {
		return
	}

	key := Key{PingMode: p.PingMode, SwathMode: p.SwathMode, FrequencyHz: p.FrequencyHz}
	e, ok := a.groups[key]
	if !ok {
		e = &Extent{
			MinAcrossM: math.Inf(1),
			MaxAcrossM: math.Inf(-1),
			MinDepthM:  math.Inf(1),
			MaxDepthM:  math.Inf(-1),
		}
		a.groups[key] = e
	}
	e.Pings++
	e.Soundings += valid
	e.MinAcrossM = math.Min(e.MinAcrossM, minAcross)
	e.MaxAcrossM = math.Max(e.MaxAcrossM, maxAcross)
	e.MinDepthM = math.Min(e.MinDepthM, minDepth)
	e.MaxDepthM = math.Max(e.MaxDepthM, maxDepth)
	e.widths = append(e.widths, maxAcross-minAcross)
}

// AddModel folds every ping of a converted model.
func (a *Aggregator) AddModel(m *swath.Model) {
	for i := range m.Pings {
		a.AddPing(&m.Pings[i])
	}
}

// Merge folds another aggregator into this one. The other aggregator
// is left untouched.
func (a *Aggregator) Merge(b *Aggregator) {
	for key, be := range b.groups {
		e, ok := a.groups[key]
		if !ok {
			e = &Extent{
				MinAcrossM: math.Inf(1),
				MaxAcrossM: math.Inf(-1),
				MinDepthM:  math.Inf(1),
				MaxDepthM:  math.Inf(-1),
			}
			a.groups[key] = e
		}
		e.Pings += be.Pings
		e.Soundings += be.Soundings
		e.MinAcrossM = math.Min(e.MinAcrossM, be.MinAcrossM)
		e.MaxAcrossM = math.Max(e.MaxAcrossM, be.MaxAcrossM)
		e.MinDepthM = math.Min(e.MinDepthM, be.MinDepthM)
		e.MaxDepthM = math.Max(e.MaxDepthM, be.MaxDepthM)
		e.widths = append(e.widths, be.widths...)
	}
}

// Groups returns the accumulated groups in a deterministic order:
// frequency ascending, then ping mode, then swath mode.
func (a *Aggregator) Groups() []Group {
	out := make([]Group, 0, len(a.groups))
	for key, e := range a.groups {
		out = append(out, Group{Key: key, Extent: e})
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Key, out[j].Key
		if ki.FrequencyHz != kj.FrequencyHz {
			return ki.FrequencyHz < kj.FrequencyHz
		}
		if ki.PingMode != kj.PingMode {
			return ki.PingMode < kj.PingMode
		}
		return ki.SwathMode < kj.SwathMode
	})
	return out
}
