package swath

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestExtractGeometryFlatVessel(t *testing.T) {
	p := &LogicalPing{
		SoundSpeedMS: 1500,
		Beams: []Beam{
			{AngleDeg: -60, TwoWayTravelSec: 0.2, Valid: true, BackscatterDB: -20},
			{AngleDeg: 0, TwoWayTravelSec: 0.2, Valid: true, BackscatterDB: -18},
			{AngleDeg: 60, TwoWayTravelSec: 0.2, Valid: true, BackscatterDB: -22},
		},
	}
	ExtractGeometry(p, nil)
	if len(p.Soundings) != 3 {
		t.Fatalf("soundings = %d, want 3", len(p.Soundings))
	}
	// Range is twtt * c / 2 = 150m.
	r := 150.0
	if !almostEqual(p.Soundings[1].AcrossM, 0) {
		t.Fatalf("nadir across = %v, want 0", p.Soundings[1].AcrossM)
	}
	if !almostEqual(p.Soundings[1].DepthM, r) {
		t.Fatalf("nadir depth = %v, want %v", p.Soundings[1].DepthM, r)
	}
	wantAcross := r * math.Sin(60*math.Pi/180)
	if !almostEqual(p.Soundings[2].AcrossM, wantAcross) {
		t.Fatalf("starboard across = %v, want %v", p.Soundings[2].AcrossM, wantAcross)
	}
	if !almostEqual(p.Soundings[0].AcrossM, -wantAcross) {
		t.Fatalf("port across = %v, want %v", p.Soundings[0].AcrossM, -wantAcross)
	}
	if p.Soundings[0].BackscatterDB != -20 {
		t.Fatalf("backscatter not carried: %v", p.Soundings[0].BackscatterDB)
	}
}

func TestExtractGeometryRollCompensation(t *testing.T) {
	// A 5 degree roll on a nadir beam must displace it exactly like a
	// 5 degree beam on a level vessel.
	rolled := &LogicalPing{
		SoundSpeedMS: 1500,
		RollDeg:      5,
		Beams:        []Beam{{AngleDeg: 0, TwoWayTravelSec: 0.2, Valid: true}},
	}
	steered := &LogicalPing{
		SoundSpeedMS: 1500,
		Beams:        []Beam{{AngleDeg: 5, TwoWayTravelSec: 0.2, Valid: true}},
	}
	ExtractGeometry(rolled, nil)
	ExtractGeometry(steered, nil)
	if !almostEqual(rolled.Soundings[0].AcrossM, steered.Soundings[0].AcrossM) {
		t.Fatalf("roll compensation: %v != %v", rolled.Soundings[0].AcrossM, steered.Soundings[0].AcrossM)
	}
}

func TestExtractGeometryVerticalCorrections(t *testing.T) {
	inst := &Installation{
		WaterlineZ: 0.5,
		TX:         Transducer{YM: 0.25, ZM: 0.8},
	}
	p := &LogicalPing{
		SoundSpeedMS: 1500,
		TxDepthM:     6,
		HeaveM:       0.3,
		Beams:        []Beam{{AngleDeg: 0, TwoWayTravelSec: 0.2, Valid: true}},
	}
	ExtractGeometry(p, inst)
	want := 150.0 + 6 - 0.3 + (0.8 - 0.5)
	if !almostEqual(p.Soundings[0].DepthM, want) {
		t.Fatalf("depth = %v, want %v", p.Soundings[0].DepthM, want)
	}
	if !almostEqual(p.Soundings[0].AcrossM, 0.25) {
		t.Fatalf("across = %v, want mount offset 0.25", p.Soundings[0].AcrossM)
	}
}

func TestExtractGeometryKeepsInvalidBeams(t *testing.T) {
	p := &LogicalPing{
		SoundSpeedMS: 1500,
		Beams: []Beam{
			{AngleDeg: -30, TwoWayTravelSec: 0.2, Valid: true},
			{AngleDeg: 0, TwoWayTravelSec: 0, Valid: false},
			{AngleDeg: 30, TwoWayTravelSec: 0.2, Valid: true},
		},
	}
	ExtractGeometry(p, nil)
	if len(p.Soundings) != len(p.Beams) {
		t.Fatalf("soundings = %d, want %d", len(p.Soundings), len(p.Beams))
	}
	if p.Soundings[1].Valid {
		t.Fatalf("invalid beam produced valid sounding")
	}
}

func TestOuterExtents(t *testing.T) {
	p := &LogicalPing{
		Soundings: []Sounding{
			{AcrossM: -120, DepthM: 80, Valid: true},
			{AcrossM: -140, DepthM: 90, Valid: false}, // wider but invalid
			{AcrossM: -40, DepthM: 60, Valid: true},
			{AcrossM: 30, DepthM: 55, Valid: true},
			{AcrossM: 110, DepthM: 75, Valid: true},
		},
	}
	port, stbd, ok := p.OuterExtents()
	if !ok {
		t.Fatalf("OuterExtents reported no valid soundings")
	}
	if port.AcrossM != -120 {
		t.Fatalf("port extent = %v, want -120", port.AcrossM)
	}
	if stbd.AcrossM != 110 {
		t.Fatalf("stbd extent = %v, want 110", stbd.AcrossM)
	}

	empty := &LogicalPing{Soundings: []Sounding{{AcrossM: 10, Valid: false}}}
	if _, _, ok := empty.OuterExtents(); ok {
		t.Fatalf("expected ok=false with no valid soundings")
	}
}
