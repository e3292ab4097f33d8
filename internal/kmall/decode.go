package kmall

import (
	"errors"
	"fmt"

	"example.com/swathconv/internal/install"
	"example.com/swathconv/internal/swath"
	"example.com/swathconv/internal/wire"
)

// Datagram type tags in the recognized catalogue.
const (
	TypeSounding     = "#MRZ" // multibeam raw range and depth, partitioned
	TypeAttitude     = "#SKM" // attitude samples
	TypeRuntime      = "#IOP" // runtime parameter snapshot
	TypeInstallation = "#IIP" // installation parameters
	TypePosition     = "#SPO" // sensor position fix
)

var (
	// ErrUnrecognized marks a type tag outside the catalogue. The format
	// is extensible, so callers skip the record and continue.
	ErrUnrecognized = errors.New("unrecognized datagram type")
	// ErrMalformed marks a payload whose declared sub-array counts are
	// inconsistent with the record's byte length. The record is skipped.
	ErrMalformed = errors.New("malformed datagram payload")
	// ErrVersion marks a datagram revision with no known field layout.
	ErrVersion = errors.New("unsupported datagram version")
)

type decodeFunc func(c *wire.Cursor, hdr Header) (swath.Payload, error)

// decodeTable selects the field layout by (type tag, revision). The
// revision is read from the datagram's own header before any body
// field, so layout changes across sounder software releases stay
// isolated here.
var decodeTable = map[string]map[uint8]decodeFunc{
	TypeSounding: {
		0: decodeSoundingV0,
		1: decodeSoundingV1,
	},
	TypeAttitude: {
		0: decodeAttitude,
	},
	TypeRuntime: {
		0: decodeRuntime,
	},
	TypeInstallation: {
		0: decodeInstallation,
	},
	TypePosition: {
		0: decodePosition,
	},
}

// Decode turns one framed datagram into a typed payload. Unknown type
// tags yield ErrUnrecognized; revision or length inconsistencies yield
// errors wrapping ErrVersion or ErrMalformed for that record only.
func Decode(rec Record) (swath.Payload, error) {
	versions, ok := decodeTable[rec.Header.Type]
	if !ok {
		return swath.Payload{}, fmt.Errorf("%w: %q", ErrUnrecognized, rec.Header.Type)
	}
	fn, ok := versions[rec.Header.Version]
	if !ok {
		return swath.Payload{}, fmt.Errorf("%w: %s revision %d", ErrVersion, rec.Header.Type, rec.Header.Version)
	}
	return fn(wire.NewCursor(rec.Body), rec.Header)
}

const soundingEntrySize = 16

func decodeSoundingV0(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	return decodeSounding(c, hdr, false)
}

func decodeSoundingV1(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	return decodeSounding(c, hdr, true)
}

// decodeSounding reads a #MRZ body: partition block, common part,
// length-prefixed ping info, then the sounding slice. Revision 1 adds a
// position-quality word to the info block; both revisions skip to the
// info block's own declared length so later additions decode cleanly.
func decodeSounding(c *wire.Cursor, hdr Header, hasQuality bool) (swath.Payload, error) {
	numOfDgms, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	dgmNum, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if numOfDgms == 0 || dgmNum == 0 || dgmNum > numOfDgms {
		return swath.Payload{}, fmt.Errorf("%w: partition %d of %d", ErrMalformed, dgmNum, numOfDgms)
	}

	cmnStart := c.Pos()
	numBytesCmn, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	pingCounter, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	// rxFansPerPing and rxFanIndex are read for bounds sanity only;
	// fan merging happens partition-by-partition downstream.
	if _, err = c.Uint8(); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if _, err = c.Uint8(); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if err := c.Seek(cmnStart + int(numBytesCmn)); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}

	infoStart := c.Pos()
	numBytesInfo, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	var info swath.PingInfo
	info.HasAttitude = true
	info.HasPosition = true
	if info.Latitude, err = c.Float64(); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if info.Longitude, err = c.Float64(); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	fields := []*float64{&info.HeadingDeg, &info.SoundSpeedMS, &info.TxDepthM, &info.HeaveM, &info.RollDeg, &info.PitchDeg}
	for _, dst := range fields {
		v, err := c.Float32()
		if err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
		*dst = float64(v)
	}
	modes, err := c.Bytes(4)
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	info.PingMode = swath.PingMode(modes[0])
	info.PulseForm = swath.PulseForm(modes[1])
	info.SwathMode = swath.SwathMode(modes[2])
	freq, err := c.Float32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	info.FrequencyHz = float64(freq)
	if hasQuality {
		if _, err = c.Float32(); err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
	}
	if err := c.Seek(infoStart + int(numBytesInfo)); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}

	numSoundings, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if err := c.Skip(2); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if c.Remaining() < int(numSoundings)*soundingEntrySize {
		return swath.Payload{}, fmt.Errorf("%w: %d soundings declared, %d bytes remain", ErrMalformed, numSoundings, c.Remaining())
	}
	beams := make([]swath.Beam, numSoundings)
	for i := range beams {
		// Angles are recorded starboard-positive, which is already the
		// normalized convention; pass through unchanged.
		angle, _ := c.Float32()
		twtt, _ := c.Float32()
		det, _ := c.Uint8()
		quality, _ := c.Uint8()
		c.Skip(2)
		refl, err := c.Float32()
		if err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
		beams[i] = swath.Beam{
			AngleDeg:        float64(angle),
			TwoWayTravelSec: float64(twtt),
			Valid:           det < 2,
			BackscatterDB:   float64(refl),
			Quality:         quality,
		}
	}

	return swath.Payload{
		Kind: swath.PayloadPingPartition,
		Partition: &swath.PingPartition{
			ID:    swath.PingIdentity{TimeUs: hdr.TimeUs(), Counter: pingCounter},
			Index: int(dgmNum) - 1,
			Count: int(numOfDgms),
			Info:  info,
			Beams: beams,
		},
	}, nil
}

const attitudeEntrySize = 24

func decodeAttitude(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	numSamples, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if err := c.Skip(2); err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if c.Remaining() < int(numSamples)*attitudeEntrySize {
		return swath.Payload{}, fmt.Errorf("%w: %d attitude samples declared, %d bytes remain", ErrMalformed, numSamples, c.Remaining())
	}
	samples := make([]swath.AttitudeSample, numSamples)
	for i := range samples {
		sec, _ := c.Uint32()
		nanos, _ := c.Uint32()
		heave, _ := c.Float32()
		roll, _ := c.Float32()
		pitch, _ := c.Float32()
		heading, err := c.Float32()
		if err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
		samples[i] = swath.AttitudeSample{
			TimeUs:     int64(sec)*1_000_000 + int64(nanos)/1_000,
			HeaveM:     float64(heave),
			RollDeg:    float64(roll),
			PitchDeg:   float64(pitch),
			HeadingDeg: float64(heading),
		}
	}
	return swath.Payload{Kind: swath.PayloadAttitude, Attitude: samples}, nil
}

func decodeRuntime(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	minDepth, err := c.Float32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	maxDepth, err := c.Float32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	modes, err := c.Bytes(2)
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	txt, err := readText(c)
	if err != nil {
		return swath.Payload{}, err
	}
	lim := install.ParseRuntimeText(txt)
	return swath.Payload{
		Kind: swath.PayloadRuntime,
		Runtime: &swath.RuntimeParams{
			TimeUs:        hdr.TimeUs(),
			MinDepthM:     float64(minDepth),
			MaxDepthM:     float64(maxDepth),
			MaxAngPortDeg: lim.MaxAngPortDeg,
			MaxAngStbdDeg: lim.MaxAngStbdDeg,
			MaxCovPortM:   lim.MaxCovPortM,
			MaxCovStbdM:   lim.MaxCovStbdM,
			PingMode:      swath.PingMode(modes[0]),
			PulseForm:     swath.PulseForm(modes[1]),
			Text:          txt,
		},
	}, nil
}

func decodeInstallation(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	txt, err := readText(c)
	if err != nil {
		return swath.Payload{}, err
	}
	inst := install.ParseInstallText(txt)
	return swath.Payload{Kind: swath.PayloadInstallation, Installation: &inst}, nil
}

func decodePosition(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	lat, err := c.Float64()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	lon, err := c.Float64()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	speed, err := c.Float32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	course, err := c.Float32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	return swath.Payload{
		Kind: swath.PayloadPosition,
		Position: &swath.PositionFix{
			TimeUs:    hdr.TimeUs(),
			Latitude:  lat,
			Longitude: lon,
			SpeedMS:   float64(speed),
			CourseDeg: float64(course),
		},
	}, nil
}

// readText reads a u16 length-prefixed text blob.
func readText(c *wire.Cursor) (string, error) {
	n, err := c.Uint16()
	if err != nil {
		return "", wrapMalformed(err)
	}
	if c.Remaining() < int(n) {
		return "", fmt.Errorf("%w: text length %d, %d bytes remain", ErrMalformed, n, c.Remaining())
	}
	return c.String(int(n))
}

func wrapMalformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
