package swath

import "math"

// ExtractGeometry derives one sounding per beam by planar ray-tracing:
// raw range comes from the two-way travel time and the sound speed at
// the transducer, the effective beam angle folds in the vessel roll,
// and the vertical is corrected for pitch, heave, recorded transducer
// depth, and the installed mounting offsets. No refraction modeling:
// recorded values are trusted as already profile-corrected where the
// sonar applies such correction.
//
// Beams flagged invalid still produce a sounding (marked invalid) so
// sounding counts and indexes stay aligned with the ping's beam count.
//
// The ping is immutable once this returns.
func ExtractGeometry(p *LogicalPing, inst *Installation) {
	var acrossOffset, depthOffset float64
	if inst != nil {
		acrossOffset = inst.TX.YM
		depthOffset = inst.TX.ZM - inst.WaterlineZ
	}
	cosPitch := math.Cos(p.PitchDeg * math.Pi / 180)

	p.Soundings = make([]Sounding, len(p.Beams))
	for i, b := range p.Beams {
		rangeM := b.TwoWayTravelSec * p.SoundSpeedMS / 2
		theta := (b.AngleDeg + p.RollDeg) * math.Pi / 180
		across := rangeM*math.Sin(theta) + acrossOffset
		depth := rangeM*math.Cos(theta)*cosPitch + p.TxDepthM - p.HeaveM + depthOffset
		p.Soundings[i] = Sounding{
			AcrossM:       across,
			DepthM:        depth,
			BackscatterDB: b.BackscatterDB,
			Valid:         b.Valid,
		}
	}
}

// OuterExtents returns the outermost valid soundings of a ping, the
// per-ping quantity coverage plots are built from. ok is false when the
// ping has no valid sounding on either side.
func (p *LogicalPing) OuterExtents() (port, stbd Sounding, ok bool) {
	havePort, haveStbd := false, false
	for _, s := range p.Soundings {
		if !s.Valid {
			continue
		}
		if s.AcrossM < 0 && (!havePort || s.AcrossM < port.AcrossM) {
			port = s
			havePort = true
		}
		if s.AcrossM > 0 && (!haveStbd || s.AcrossM > stbd.AcrossM) {
			stbd = s
			haveStbd = true
		}
	}
	return port, stbd, havePort || haveStbd
}
