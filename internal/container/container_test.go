package container

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"example.com/swathconv/internal/swath"
)

func sampleModel() *swath.Model {
	return &swath.Model{
		Meta: swath.Meta{
			SourcePath:    "/data/line1.kmall",
			SourceName:    "line1.kmall",
			SourceSize:    4096,
			Format:        swath.FormatModern,
			ConvertedAtUs: 1_700_000_000_000_000,
		},
		Pings: []swath.LogicalPing{
			{
				ID:           swath.PingIdentity{TimeUs: 1000, Counter: 1},
				Latitude:     59.5,
				Longitude:    10.75,
				SoundSpeedMS: 1500,
				PingMode:     swath.PingModeDeep,
				PulseForm:    swath.PulseFormFM,
				SwathMode:    swath.SwathModeDual,
				FrequencyHz:  300_000,
				Beams: []swath.Beam{
					{AngleDeg: -60, TwoWayTravelSec: 0.2, Valid: true, BackscatterDB: -20, Quality: 7},
					{AngleDeg: 60, TwoWayTravelSec: 0.2, Valid: false, BackscatterDB: -25, Quality: 1},
				},
				Soundings: []swath.Sounding{
					{AcrossM: -129.9, DepthM: 75, BackscatterDB: -20, Valid: true},
					{AcrossM: 129.9, DepthM: 75, BackscatterDB: -25, Valid: false},
				},
			},
		},
		Params: []swath.ParameterRecord{
			{TimeUs: 500, MaxAngPortDeg: 65, MaxAngStbdDeg: 60, PingMode: swath.PingModeDeep},
		},
		Installation: &swath.Installation{
			Serial:     "2040",
			WaterlineZ: 0.5,
			TX:         swath.Transducer{YM: 0.25, ZM: 0.8},
			Text:       "SN=2040,SWLZ=0.5",
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.swc")
			want := sampleModel()
			if err := Save(path, want, compress); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			want.Meta.Compressed = compress
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripEmptyModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.swc")
	want := &swath.Model{Meta: swath.Meta{SourceName: "empty.all", Format: swath.FormatLegacy}}
	if err := Save(path, want, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCompressionInvariance(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.swc")
	packed := filepath.Join(dir, "packed.swc")
	m := sampleModel()
	if err := Save(plain, m, false); err != nil {
		t.Fatalf("Save plain: %v", err)
	}
	if err := Save(packed, m, true); err != nil {
		t.Fatalf("Save packed: %v", err)
	}
	a, err := Load(plain)
	if err != nil {
		t.Fatalf("Load plain: %v", err)
	}
	b, err := Load(packed)
	if err != nil {
		t.Fatalf("Load packed: %v", err)
	}
	// Only the compression flag may differ.
	a.Meta.Compressed = false
	b.Meta.Compressed = false
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("compressed and plain containers decode differently (-plain +gzip):\n%s", diff)
	}
}

func TestLoadFailsClosed(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.swc")
	if err := Save(valid, sampleModel(), false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(valid)
	if err != nil {
		t.Fatalf("read container: %v", err)
	}

	corrupt := func(t *testing.T, mutate func([]byte)) string {
		t.Helper()
		copied := append([]byte(nil), data...)
		mutate(copied)
		path := filepath.Join(t.TempDir(), "bad.swc")
		if err := os.WriteFile(path, copied, 0o644); err != nil {
			t.Fatalf("write corrupted container: %v", err)
		}
		return path
	}

	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{name: "bad magic", mutate: func(b []byte) { b[0] = 'X' }},
		{name: "unknown version", mutate: func(b []byte) { binary.LittleEndian.PutUint16(b[4:6], 99) }},
		{name: "payload bit flip", mutate: func(b []byte) { b[len(b)-1] ^= 0x01 }},
		{name: "checksum mismatch", mutate: func(b []byte) { binary.LittleEndian.PutUint32(b[8:12], 0) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := corrupt(t, tc.mutate)
			if _, err := Load(path); !errors.Is(err, ErrContainerFormat) {
				t.Fatalf("Load error = %v, want ErrContainerFormat", err)
			}
		})
	}

	t.Run("too short", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.swc")
		if err := os.WriteFile(path, data[:6], 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); !errors.Is(err, ErrContainerFormat) {
			t.Fatalf("Load error = %v, want ErrContainerFormat", err)
		}
	})
}

func TestSaveDoesNotMutateInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.swc")
	m := sampleModel()
	if err := Save(path, m, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.Meta.Compressed {
		t.Fatalf("Save mutated the caller's model")
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.swc")
	if err := Save(path, sampleModel(), false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "model.swc" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected directory contents: %v", names)
	}
}
