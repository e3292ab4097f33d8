package allfmt

import (
	"errors"
	"fmt"

	"example.com/swathconv/internal/install"
	"example.com/swathconv/internal/swath"
	"example.com/swathconv/internal/wire"
)

// Record type identifiers in the recognized catalogue.
const (
	TypeRawRange     = 0x4E // raw range and angle, one record per ping
	TypeAttitude     = 0x41
	TypeInstallation = 0x49
	TypePosition     = 0x50
	TypeRuntime      = 0x52
)

var (
	// ErrUnrecognized marks a type identifier outside the catalogue.
	ErrUnrecognized = errors.New("unrecognized record type")
	// ErrMalformed marks a payload inconsistent with the record length.
	ErrMalformed = errors.New("malformed record payload")
)

// detectInvalid is the detection-info bit flagging a rejected beam.
const detectInvalid = 0x80

type decodeFunc func(c *wire.Cursor, hdr Header) (swath.Payload, error)

var decodeTable = map[uint8]decodeFunc{
	TypeRawRange:     decodeRawRange,
	TypeAttitude:     decodeAttitude,
	TypeInstallation: decodeInstallation,
	TypePosition:     decodePosition,
	TypeRuntime:      decodeRuntime,
}

// Decode turns one framed legacy record into the shared payload
// vocabulary. The legacy format never partitions a ping, so raw-range
// records always declare a single partition.
func Decode(rec Record) (swath.Payload, error) {
	fn, ok := decodeTable[rec.Header.TypeID]
	if !ok {
		return swath.Payload{}, fmt.Errorf("%w: 0x%02X", ErrUnrecognized, rec.Header.TypeID)
	}
	return fn(wire.NewCursor(rec.Body), rec.Header)
}

const beamEntrySize = 12

// decodeRawRange reads the per-ping raw range and angle record. Angles
// are recorded port-positive in this format; they are negated here so
// everything downstream sees port-negative.
func decodeRawRange(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	ssDeci, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	txDepth, err := c.Float32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	numBeams, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if c.Remaining() < int(numBeams)*beamEntrySize {
		return swath.Payload{}, fmt.Errorf("%w: %d beams declared, %d bytes remain", ErrMalformed, numBeams, c.Remaining())
	}
	beams := make([]swath.Beam, numBeams)
	for i := range beams {
		angleCenti, _ := c.Int16()
		twtt, _ := c.Float32()
		reflDeci, _ := c.Int16()
		det, _ := c.Uint8()
		quality, _ := c.Uint8()
		if err := c.Skip(2); err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
		beams[i] = swath.Beam{
			AngleDeg:        -float64(angleCenti) / 100,
			TwoWayTravelSec: float64(twtt),
			Valid:           det&detectInvalid == 0,
			BackscatterDB:   float64(reflDeci) / 10,
			Quality:         quality,
		}
	}

	info := swath.PingInfo{
		SoundSpeedMS: float64(ssDeci) / 10,
		TxDepthM:     float64(txDepth),
		FrequencyHz:  ModelFrequencyHz(hdr.Model),
		// Attitude, position, and mode settings live in separate
		// records; the reconstructor and pipeline stamp them in.
	}

	return swath.Payload{
		Kind: swath.PayloadPingPartition,
		Partition: &swath.PingPartition{
			ID:    swath.PingIdentity{TimeUs: hdr.TimeUs(), Counter: hdr.Counter},
			Index: 0,
			Count: 1,
			Info:  info,
			Beams: beams,
		},
	}, nil
}

const attitudeEntrySize = 12

func decodeAttitude(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	numEntries, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	if c.Remaining() < int(numEntries)*attitudeEntrySize {
		return swath.Payload{}, fmt.Errorf("%w: %d attitude entries declared, %d bytes remain", ErrMalformed, numEntries, c.Remaining())
	}
	base := hdr.TimeUs()
	samples := make([]swath.AttitudeSample, numEntries)
	for i := range samples {
		offsetMs, _ := c.Uint16()
		c.Skip(2) // sensor status
		rollCenti, _ := c.Int16()
		pitchCenti, _ := c.Int16()
		heaveCm, _ := c.Int16()
		headingCenti, err := c.Uint16()
		if err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
		samples[i] = swath.AttitudeSample{
			TimeUs:     base + int64(offsetMs)*1_000,
			RollDeg:    float64(rollCenti) / 100,
			PitchDeg:   float64(pitchCenti) / 100,
			HeaveM:     float64(heaveCm) / 100,
			HeadingDeg: float64(headingCenti) / 100,
		}
	}
	return swath.Payload{Kind: swath.PayloadAttitude, Attitude: samples}, nil
}

func decodeInstallation(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	txt, err := c.String(c.Remaining())
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	inst := install.ParseInstallText(txt)
	return swath.Payload{Kind: swath.PayloadInstallation, Installation: &inst}, nil
}

func decodePosition(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	lat, err := c.Int32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	lon, err := c.Int32()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	c.Skip(2) // fix quality
	speedCm, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	courseCenti, err := c.Uint16()
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	return swath.Payload{
		Kind: swath.PayloadPosition,
		Position: &swath.PositionFix{
			TimeUs: hdr.TimeUs(),
			// Latitude carries double the longitude resolution so the
			// same word covers ±90 instead of ±180.
			Latitude:  float64(lat) / 20_000_000,
			Longitude: float64(lon) / 10_000_000,
			SpeedMS:   float64(speedCm) / 100,
			CourseDeg: float64(courseCenti) / 100,
		},
	}, nil
}

func decodeRuntime(c *wire.Cursor, hdr Header) (swath.Payload, error) {
	modes, err := c.Bytes(4)
	if err != nil {
		return swath.Payload{}, wrapMalformed(err)
	}
	words := make([]uint16, 6)
	for i := range words {
		if words[i], err = c.Uint16(); err != nil {
			return swath.Payload{}, wrapMalformed(err)
		}
	}
	return swath.Payload{
		Kind: swath.PayloadRuntime,
		Runtime: &swath.RuntimeParams{
			TimeUs:        hdr.TimeUs(),
			PingMode:      swath.PingMode(modes[0]),
			PulseForm:     swath.PulseForm(modes[1]),
			SwathMode:     swath.SwathMode(modes[2]),
			MinDepthM:     float64(words[0]),
			MaxDepthM:     float64(words[1]),
			MaxAngPortDeg: float64(words[2]) / 10,
			MaxAngStbdDeg: float64(words[3]) / 10,
			MaxCovPortM:   float64(words[4]),
			MaxCovStbdM:   float64(words[5]),
		},
	}, nil
}

// modelFrequency maps sounder model numbers to nominal operating
// frequency. The legacy format does not record frequency per ping, so
// coverage grouping keys off the model's nominal band, the same way
// the plotting tools treated legacy data.
var modelFrequency = map[uint16]float64{
	122:  12_000,
	124:  12_000,
	302:  30_000,
	304:  30_000,
	710:  85_000,
	712:  55_000,
	2040: 300_000,
	3002: 300_000,
}

// ModelFrequencyHz returns the nominal frequency for a sounder model,
// or zero when the model is unknown.
func ModelFrequencyHz(model uint16) float64 {
	return modelFrequency[model]
}

func wrapMalformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
