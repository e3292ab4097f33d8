package swath

import (
	"math/rand"
	"testing"
)

func makePartition(id PingIdentity, index, count int, angles ...float64) *PingPartition {
	beams := make([]Beam, len(angles))
	for i, a := range angles {
		beams[i] = Beam{AngleDeg: a, TwoWayTravelSec: 0.1, Valid: true}
	}
	return &PingPartition{
		ID:    id,
		Index: index,
		Count: count,
		Info:  PingInfo{SoundSpeedMS: 1500, HasAttitude: true, HasPosition: true},
		Beams: beams,
	}
}

func TestReconstructorSinglePartition(t *testing.T) {
	r := NewReconstructor("test")
	id := PingIdentity{TimeUs: 1000, Counter: 1}
	pings, diags := r.Add(makePartition(id, 0, 1, -30, 0, 30), 0, 0)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %+v", diags)
	}
	if len(pings) != 1 {
		t.Fatalf("pings = %d, want 1", len(pings))
	}
	if len(pings[0].Beams) != 3 || pings[0].Incomplete {
		t.Fatalf("ping = %+v", pings[0])
	}
}

func TestReconstructorOrderIndependence(t *testing.T) {
	id := PingIdentity{TimeUs: 5000, Counter: 9}
	build := func() []*PingPartition {
		return []*PingPartition{
			makePartition(id, 0, 3, -60, -50),
			makePartition(id, 1, 3, -10, 10),
			makePartition(id, 2, 3, 50, 60),
		}
	}
	want := []float64{-60, -50, -10, 10, 50, 60}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		parts := build()
		rng.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })
		r := NewReconstructor("test")
		var pings []LogicalPing
		for i, p := range parts {
			done, diags := r.Add(p, i, int64(i))
			if len(diags) != 0 {
				t.Fatalf("trial %d: diagnostics: %+v", trial, diags)
			}
			pings = append(pings, done...)
		}
		if len(pings) != 1 {
			t.Fatalf("trial %d: pings = %d, want 1", trial, len(pings))
		}
		got := pings[0].Beams
		if len(got) != len(want) {
			t.Fatalf("trial %d: beams = %d, want %d", trial, len(got), len(want))
		}
		for i, b := range got {
			if b.AngleDeg != want[i] {
				t.Fatalf("trial %d: beam %d angle = %v, want %v", trial, i, b.AngleDeg, want[i])
			}
		}
	}
}

func TestReconstructorDuplicatePartition(t *testing.T) {
	r := NewReconstructor("test")
	id := PingIdentity{TimeUs: 100, Counter: 2}

	if _, diags := r.Add(makePartition(id, 0, 2, -5), 0, 0); len(diags) != 0 {
		t.Fatalf("first add: %+v", diags)
	}
	// Same partition again while the ping is still open.
	_, diags := r.Add(makePartition(id, 0, 2, -5), 1, 64)
	if len(diags) != 1 || diags[0].Code != DuplicatePartition || diags[0].Severity != WARN {
		t.Fatalf("open duplicate: %+v", diags)
	}
	pings, diags := r.Add(makePartition(id, 1, 2, 5), 2, 128)
	if len(diags) != 0 || len(pings) != 1 {
		t.Fatalf("completion: pings=%d diags=%+v", len(pings), diags)
	}
	if len(pings[0].Beams) != 2 {
		t.Fatalf("duplicate beams leaked into ping: %d", len(pings[0].Beams))
	}
	// A partition arriving after completion must not reopen the ping.
	pings, diags = r.Add(makePartition(id, 1, 2, 5), 3, 192)
	if len(pings) != 0 {
		t.Fatalf("completed ping reopened")
	}
	if len(diags) != 1 || diags[0].Code != DuplicatePartition {
		t.Fatalf("late duplicate: %+v", diags)
	}
}

func TestReconstructorFlushIncomplete(t *testing.T) {
	r := NewReconstructor("test")
	first := PingIdentity{TimeUs: 100, Counter: 1}
	second := PingIdentity{TimeUs: 200, Counter: 2}
	r.Add(makePartition(first, 0, 2, -5), 0, 0)
	r.Add(makePartition(second, 1, 2, 5), 1, 64)

	pings, diags := r.Flush()
	if len(pings) != 2 {
		t.Fatalf("flushed pings = %d, want 2", len(pings))
	}
	for _, p := range pings {
		if !p.Incomplete {
			t.Fatalf("flushed ping not marked incomplete: %+v", p.ID)
		}
		if len(p.Beams) != 1 {
			t.Fatalf("flushed ping beams = %d, want 1", len(p.Beams))
		}
	}
	if len(diags) != 2 {
		t.Fatalf("diagnostics = %d, want 2", len(diags))
	}
	for _, d := range diags {
		if d.Code != IncompletePing || d.Severity != WARN {
			t.Fatalf("diagnostic = %+v", d)
		}
	}
	// A second flush has nothing left to emit.
	if pings, _ := r.Flush(); len(pings) != 0 {
		t.Fatalf("second flush emitted %d pings", len(pings))
	}
}

func TestReconstructorPartitionCountMismatch(t *testing.T) {
	r := NewReconstructor("test")
	id := PingIdentity{TimeUs: 100, Counter: 3}
	r.Add(makePartition(id, 0, 2, -5), 0, 0)
	_, diags := r.Add(makePartition(id, 1, 3, 5), 1, 64)
	if len(diags) != 1 || diags[0].Code != MalformedPayload {
		t.Fatalf("count mismatch: %+v", diags)
	}
}

func TestReconstructorCountOutOfRange(t *testing.T) {
	r := NewReconstructor("test")
	id := PingIdentity{TimeUs: 100, Counter: 4}
	_, diags := r.Add(makePartition(id, 0, 100, -5), 0, 0)
	if len(diags) != 1 || diags[0].Code != MalformedPayload || diags[0].Severity != ERROR {
		t.Fatalf("oversized count: %+v", diags)
	}
}

func TestReconstructorStampsObservations(t *testing.T) {
	r := NewReconstructor("test")
	r.ObserveAttitude(AttitudeSample{TimeUs: 90, RollDeg: 2, PitchDeg: -1, HeaveM: 0.5, HeadingDeg: 45})
	r.ObservePosition(PositionFix{TimeUs: 95, Latitude: 59.5, Longitude: 10.75})

	part := makePartition(PingIdentity{TimeUs: 100, Counter: 5}, 0, 1, -30)
	part.Info.HasAttitude = false
	part.Info.HasPosition = false
	pings, _ := r.Add(part, 0, 0)
	if len(pings) != 1 {
		t.Fatalf("pings = %d, want 1", len(pings))
	}
	p := pings[0]
	if p.RollDeg != 2 || p.PitchDeg != -1 || p.HeaveM != 0.5 || p.HeadingDeg != 45 {
		t.Fatalf("attitude not stamped: %+v", p)
	}
	if p.Latitude != 59.5 || p.Longitude != 10.75 {
		t.Fatalf("position not stamped: %v,%v", p.Latitude, p.Longitude)
	}
}
