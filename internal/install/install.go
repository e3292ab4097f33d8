// Package install parses the vendor text blobs embedded in
// installation and runtime-parameter datagrams. Both formats carry the
// same conventions: installation text is comma-separated KEY=VALUE
// entries where transducer entries (TRAI_TX1, TRAI_RX1) chain their
// axes with semicolons, and runtime text is "Label: value" lines.
package install

import (
	"strconv"
	"strings"

	"example.com/swathconv/internal/swath"
)

// ParseInstallText decodes an installation text blob, for example:
//
//	SN=1234,SWLZ=0.5,TRAI_TX1X=1.0;Y=0.2;Z=0.8;R=0;P=0;H=0,TRAI_RX1X=1.1;Y=-0.2;Z=0.8;R=0;P=0;H=0
//
// Unknown keys are ignored; missing keys leave zero values. The raw
// text is retained so nothing recorded is lost.
func ParseInstallText(txt string) swath.Installation {
	inst := swath.Installation{Text: txt}
	for _, entry := range strings.Split(txt, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "TRAI_TX1"):
			inst.TX = parseTransducer(strings.TrimPrefix(entry, "TRAI_TX1"))
		case strings.HasPrefix(entry, "TRAI_RX1"):
			inst.RX = parseTransducer(strings.TrimPrefix(entry, "TRAI_RX1"))
		default:
			key, val, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			switch key {
			case "SN":
				inst.Serial = val
			case "SWLZ":
				inst.WaterlineZ = parseFloat(val)
			}
		}
	}
	return inst
}

// parseTransducer decodes "X=1.0;Y=0.2;Z=0.8;R=0;P=0;H=0".
func parseTransducer(s string) swath.Transducer {
	var t swath.Transducer
	for _, axis := range strings.Split(s, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(axis), "=")
		if !ok {
			continue
		}
		f := parseFloat(val)
		switch key {
		case "X":
			t.XM = f
		case "Y":
			t.YM = f
		case "Z":
			t.ZM = f
		case "R":
			t.RollDeg = f
		case "P":
			t.PitchDeg = f
		case "H":
			t.HeadDeg = f
		}
	}
	return t
}

// RuntimeLimits is the subset of runtime text used by coverage
// analysis: the operator's angular and coverage limits.
type RuntimeLimits struct {
	MaxAngPortDeg float64
	MaxAngStbdDeg float64
	MaxCovPortM   float64
	MaxCovStbdM   float64
}

// ParseRuntimeText decodes "Label: value" runtime parameter text.
func ParseRuntimeText(txt string) RuntimeLimits {
	var lim RuntimeLimits
	for _, line := range strings.Split(txt, "\n") {
		label, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f := parseFloat(strings.TrimSpace(val))
		switch strings.TrimSpace(label) {
		case "Max angle Port":
			lim.MaxAngPortDeg = f
		case "Max angle Starboard":
			lim.MaxAngStbdDeg = f
		case "Max coverage Port":
			lim.MaxCovPortM = f
		case "Max coverage Starboard":
			lim.MaxCovStbdM = f
		}
	}
	return lim
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
