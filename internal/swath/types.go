// Package swath defines the format-independent record model shared by
// both capture-format decoders and everything downstream: ping
// partitions, reconstructed pings, derived soundings, acquisition
// parameter history, and per-file diagnostics.
package swath

// Format identifies the source capture format of a file.
type Format string

const (
	FormatModern Format = "kmall"
	FormatLegacy Format = "all"
)

// PingMode is the sonar depth-mode setting active for a ping.
type PingMode uint8

const (
	PingModeAuto PingMode = iota
	PingModeVeryShallow
	PingModeShallow
	PingModeMedium
	PingModeDeep
	PingModeVeryDeep
	PingModeExtraDeep
)

func (m PingMode) String() string {
	switch m {
	case PingModeAuto:
		return "Auto"
	case PingModeVeryShallow:
		return "Very Shallow"
	case PingModeShallow:
		return "Shallow"
	case PingModeMedium:
		return "Medium"
	case PingModeDeep:
		return "Deep"
	case PingModeVeryDeep:
		return "Very Deep"
	case PingModeExtraDeep:
		return "Extra Deep"
	}
	return "Unknown"
}

// PulseForm is the transmit pulse shape.
type PulseForm uint8

const (
	PulseFormCW PulseForm = iota
	PulseFormMixed
	PulseFormFM
)

func (p PulseForm) String() string {
	switch p {
	case PulseFormCW:
		return "CW"
	case PulseFormMixed:
		return "Mixed"
	case PulseFormFM:
		return "FM"
	}
	return "Unknown"
}

// SwathMode distinguishes single- and dual-swath operation.
type SwathMode uint8

const (
	SwathModeSingle SwathMode = iota
	SwathModeDual
)

func (s SwathMode) String() string {
	switch s {
	case SwathModeSingle:
		return "Single"
	case SwathModeDual:
		return "Dual"
	}
	return "Unknown"
}

// PingIdentity names one transmit/receive cycle. The counter wraps, so
// the pair with the ping timestamp is the identity key.
type PingIdentity struct {
	TimeUs  int64  `json:"timeUs" cbor:"1,keyasint"`
	Counter uint16 `json:"counter" cbor:"2,keyasint"`
}

// Beam carries one raw sounding as decoded from either format. AngleDeg
// is normalized to port-negative/starboard-positive; the decoders apply
// each format's sign convention before a Beam exists.
type Beam struct {
	AngleDeg        float64 `cbor:"1,keyasint"`
	TwoWayTravelSec float64 `cbor:"2,keyasint"`
	Valid           bool    `cbor:"3,keyasint"`
	BackscatterDB   float64 `cbor:"4,keyasint"`
	Quality         uint8   `cbor:"5,keyasint"`
}

// PingInfo is the per-ping acquisition snapshot decoded alongside the
// beam data. The legacy format records attitude and position in
// separate datagrams; HasAttitude and HasPosition report whether the
// fields were present inline.
type PingInfo struct {
	Latitude     float64
	Longitude    float64
	HeadingDeg   float64
	SoundSpeedMS float64
	TxDepthM     float64
	HeaveM       float64
	RollDeg      float64
	PitchDeg     float64
	PingMode     PingMode
	PulseForm    PulseForm
	SwathMode    SwathMode
	FrequencyHz  float64
	HasAttitude  bool
	HasPosition  bool
}

// PingPartition is one fragment of a ping's beam data. Index is
// zero-based; Count is the total number of partitions declared for the
// identity. The legacy format always emits Count==1.
type PingPartition struct {
	ID    PingIdentity
	Index int
	Count int
	Info  PingInfo
	Beams []Beam
}

// AttitudeSample is one vessel attitude observation.
type AttitudeSample struct {
	TimeUs     int64
	HeaveM     float64
	RollDeg    float64
	PitchDeg   float64
	HeadingDeg float64
}

// PositionFix is one navigation observation.
type PositionFix struct {
	TimeUs    int64
	Latitude  float64
	Longitude float64
	SpeedMS   float64
	CourseDeg float64
}

// RuntimeParams is a runtime-parameter snapshot as decoded, before it is
// stamped into the parameter history.
type RuntimeParams struct {
	TimeUs        int64
	MinDepthM     float64
	MaxDepthM     float64
	MaxAngPortDeg float64
	MaxAngStbdDeg float64
	MaxCovPortM   float64
	MaxCovStbdM   float64
	PingMode      PingMode
	PulseForm     PulseForm
	SwathMode     SwathMode
	Text          string
}

// Installation carries the mounting geometry decoded from the
// installation datagram's text blob.
type Installation struct {
	Serial     string     `cbor:"1,keyasint"`
	WaterlineZ float64    `cbor:"2,keyasint"`
	TX         Transducer `cbor:"3,keyasint"`
	RX         Transducer `cbor:"4,keyasint"`
	Text       string     `cbor:"5,keyasint"`
}

// Transducer is one array's mounting offset and rotation relative to
// the vessel reference point.
type Transducer struct {
	XM       float64 `cbor:"1,keyasint"`
	YM       float64 `cbor:"2,keyasint"`
	ZM       float64 `cbor:"3,keyasint"`
	RollDeg  float64 `cbor:"4,keyasint"`
	PitchDeg float64 `cbor:"5,keyasint"`
	HeadDeg  float64 `cbor:"6,keyasint"`
}

// PayloadKind tags the decoded payload variants both decoders emit.
type PayloadKind uint8

const (
	PayloadIgnored PayloadKind = iota
	PayloadPingPartition
	PayloadAttitude
	PayloadRuntime
	PayloadInstallation
	PayloadPosition
)

// Payload is the tagged union handed from either format decoder to the
// reconstruction pipeline. Exactly the field matching Kind is set.
type Payload struct {
	Kind         PayloadKind
	Partition    *PingPartition
	Attitude     []AttitudeSample
	Runtime      *RuntimeParams
	Installation *Installation
	Position     *PositionFix
}

// Sounding is the derived plotting unit: one beam's geometry relative
// to the vessel reference point. Negative across-track is port.
type Sounding struct {
	AcrossM       float64 `cbor:"1,keyasint"`
	DepthM        float64 `cbor:"2,keyasint"`
	BackscatterDB float64 `cbor:"3,keyasint"`
	Valid         bool    `cbor:"4,keyasint"`
}

// LogicalPing is a reconstructed ping. It is immutable once geometry
// has been derived; consumers only ever see read-only views.
type LogicalPing struct {
	ID           PingIdentity `cbor:"1,keyasint"`
	Latitude     float64      `cbor:"2,keyasint"`
	Longitude    float64      `cbor:"3,keyasint"`
	HeadingDeg   float64      `cbor:"4,keyasint"`
	HeaveM       float64      `cbor:"5,keyasint"`
	RollDeg      float64      `cbor:"6,keyasint"`
	PitchDeg     float64      `cbor:"7,keyasint"`
	SoundSpeedMS float64      `cbor:"8,keyasint"`
	TxDepthM     float64      `cbor:"9,keyasint"`
	PingMode     PingMode     `cbor:"10,keyasint"`
	PulseForm    PulseForm    `cbor:"11,keyasint"`
	SwathMode    SwathMode    `cbor:"12,keyasint"`
	FrequencyHz  float64      `cbor:"13,keyasint"`
	Beams        []Beam       `cbor:"14,keyasint"`
	Soundings    []Sounding   `cbor:"15,keyasint"`
	Incomplete   bool         `cbor:"16,keyasint"`
}

// ParameterRecord is one runtime-parameter snapshot with its validity
// start time. Later records supersede earlier ones going forward only.
type ParameterRecord struct {
	TimeUs        int64     `cbor:"1,keyasint"`
	MinDepthM     float64   `cbor:"2,keyasint"`
	MaxDepthM     float64   `cbor:"3,keyasint"`
	MaxAngPortDeg float64   `cbor:"4,keyasint"`
	MaxAngStbdDeg float64   `cbor:"5,keyasint"`
	MaxCovPortM   float64   `cbor:"6,keyasint"`
	MaxCovStbdM   float64   `cbor:"7,keyasint"`
	PingMode      PingMode  `cbor:"8,keyasint"`
	PulseForm     PulseForm `cbor:"9,keyasint"`
	SwathMode     SwathMode `cbor:"10,keyasint"`
	Text          string    `cbor:"11,keyasint"`
}

// Meta is the file-level conversion metadata stored with a model.
type Meta struct {
	SourcePath    string `cbor:"1,keyasint"`
	SourceName    string `cbor:"2,keyasint"`
	SourceSize    int64  `cbor:"3,keyasint"`
	Format        Format `cbor:"4,keyasint"`
	ConvertedAtUs int64  `cbor:"5,keyasint"`
	Compressed    bool   `cbor:"6,keyasint"`
}

// Model is the canonical record model: everything downstream consumers
// (plotting, coverage analysis, the container) rely on. It is built
// once per input file and never mutated afterwards.
type Model struct {
	Meta         Meta              `cbor:"1,keyasint"`
	Pings        []LogicalPing     `cbor:"2,keyasint"`
	Params       []ParameterRecord `cbor:"3,keyasint"`
	Installation *Installation     `cbor:"4,keyasint"`
}

// SoundingCount returns the total number of soundings across all pings,
// valid or not.
func (m *Model) SoundingCount() int {
	n := 0
	for i := range m.Pings {
		n += len(m.Pings[i].Soundings)
	}
	return n
}
