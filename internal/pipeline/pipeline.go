// Package pipeline drives a capture file end to end: format detection,
// framing, decoding, ping reconstruction, geometry extraction, and
// container output. Damaged records degrade only their own
// contribution; the pipeline keeps every diagnostic it raises.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"example.com/swathconv/internal/allfmt"
	"example.com/swathconv/internal/common"
	"example.com/swathconv/internal/container"
	"example.com/swathconv/internal/kmall"
	"example.com/swathconv/internal/swath"
)

// ErrUnknownFormat reports a file whose leading bytes match neither
// capture format.
var ErrUnknownFormat = errors.New("unknown capture format")

// Options controls one conversion.
type Options struct {
	// Compress selects gzip container payloads.
	Compress bool
	// Progress, when set, is called after each framed record with bytes
	// consumed and the total file size.
	Progress func(done, total int64)
	// Metrics, when set, accumulates record and ping counts.
	Metrics *common.Metrics
}

// Result is a finished conversion: the canonical model plus every
// diagnostic raised on the way.
type Result struct {
	Model       *swath.Model
	Diagnostics []swath.Diagnostic
}

// DetectFormat sniffs a capture's format from its leading bytes, never
// from the file name. Both formats open with a little-endian length
// word; the byte after it is '#' for the modern tagged header and STX
// for the legacy one.
func DetectFormat(r io.ReaderAt) (swath.Format, error) {
	lead := make([]byte, 5)
	if _, err := r.ReadAt(lead, 0); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	switch lead[4] {
	case '#':
		return swath.FormatModern, nil
	case 0x02:
		return swath.FormatLegacy, nil
	}
	return "", fmt.Errorf("%w: byte 0x%02X after length word", ErrUnknownFormat, lead[4])
}

// DetectFormatFile sniffs a capture file by path.
func DetectFormatFile(path string) (swath.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return DetectFormat(f)
}

// Convert runs one capture file through the full pipeline. The
// returned error is nil whenever a model could be produced; per-record
// damage is reported through Result.Diagnostics instead.
func Convert(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	format, err := DetectFormat(f)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	run := &conversion{
		file:  name,
		recon: swath.NewReconstructor(name),
		opts:  opts,
		total: st.Size(),
	}
	switch format {
	case swath.FormatModern:
		err = run.walkModern(ctx, f, st.Size())
	case swath.FormatLegacy:
		err = run.walkLegacy(ctx, f, st.Size())
	}
	if err != nil {
		return nil, err
	}

	pings, diags := run.recon.Flush()
	run.pings = append(run.pings, pings...)
	run.diags = append(run.diags, diags...)
	run.finish(format)

	model := &swath.Model{
		Meta: swath.Meta{
			SourcePath:    path,
			SourceName:    name,
			SourceSize:    st.Size(),
			Format:        format,
			ConvertedAtUs: time.Now().UnixMicro(),
		},
		Pings:        run.pings,
		Params:       run.params.Records(),
		Installation: run.installation,
	}
	return &Result{Model: model, Diagnostics: run.diags}, nil
}

// ConvertFile converts src and writes the container to dst.
func ConvertFile(ctx context.Context, src, dst string, opts Options) (*Result, error) {
	res, err := Convert(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	if err := container.Save(dst, res.Model, opts.Compress); err != nil {
		return res, err
	}
	return res, nil
}

// OutputPath maps a capture path to its container path in outDir. An
// empty outDir places the container next to the capture.
func OutputPath(src, outDir string) string {
	base := filepath.Base(src)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if outDir == "" {
		outDir = filepath.Dir(src)
	}
	return filepath.Join(outDir, base+container.Ext)
}

// conversion is the mutable state of one Convert call.
type conversion struct {
	file         string
	recon        *swath.Reconstructor
	params       swath.ParamHistory
	installation *swath.Installation
	pings        []swath.LogicalPing
	diags        []swath.Diagnostic
	opts         Options
	total        int64
}

func (run *conversion) walkModern(ctx context.Context, src io.ReaderAt, size int64) error {
	fr := kmall.NewFramer(src, size)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset := fr.Offset()
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, kmall.ErrTruncated) {
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.TruncatedRecord, swath.ERROR, "%v", err))
			return nil
		}
		if errors.Is(err, kmall.ErrBadHeader) {
			// Cannot resynchronize a length-framed stream past a bad header.
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.TruncatedRecord, swath.ERROR, "%v", err))
			return nil
		}
		if err != nil {
			return err
		}
		run.progress(offset, fr.Offset())
		if !rec.TrailerOK {
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.MalformedPayload, swath.ERROR,
				"%s: closing length word disagrees with header", rec.Header.Type))
			continue
		}

		payload, err := kmall.Decode(rec)
		switch {
		case errors.Is(err, kmall.ErrUnrecognized):
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.UnrecognizedRecord, swath.INFO, "%v", err))
			continue
		case errors.Is(err, kmall.ErrVersion):
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.UnrecognizedRecord, swath.WARN, "%v", err))
			continue
		case errors.Is(err, kmall.ErrMalformed):
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.MalformedPayload, swath.ERROR, "%v", err))
			continue
		case err != nil:
			return err
		}
		run.apply(payload, index, offset)
	}
}

func (run *conversion) walkLegacy(ctx context.Context, src io.ReaderAt, size int64) error {
	fr := allfmt.NewFramer(src, size)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset := fr.Offset()
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, allfmt.ErrTruncated) {
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.TruncatedRecord, swath.ERROR, "%v", err))
			return nil
		}
		if errors.Is(err, allfmt.ErrBadHeader) {
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.TruncatedRecord, swath.ERROR, "%v", err))
			return nil
		}
		if err != nil {
			return err
		}
		run.progress(offset, fr.Offset())
		if !rec.ChecksumOK {
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.MalformedPayload, swath.ERROR,
				"record type 0x%02X: checksum mismatch", rec.Header.TypeID))
			continue
		}

		payload, err := allfmt.Decode(rec)
		switch {
		case errors.Is(err, allfmt.ErrUnrecognized):
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.UnrecognizedRecord, swath.INFO, "%v", err))
			continue
		case errors.Is(err, allfmt.ErrMalformed):
			run.diags = append(run.diags, swath.NewDiagnostic(run.file, index, offset, swath.MalformedPayload, swath.ERROR, "%v", err))
			continue
		case err != nil:
			return err
		}
		run.apply(payload, index, offset)
	}
}

func (run *conversion) apply(payload swath.Payload, index int, offset int64) {
	switch payload.Kind {
	case swath.PayloadPingPartition:
		pings, diags := run.recon.Add(payload.Partition, index, offset)
		run.pings = append(run.pings, pings...)
		run.diags = append(run.diags, diags...)
		if run.opts.Metrics != nil {
			run.opts.Metrics.AddPings(len(pings))
		}
	case swath.PayloadAttitude:
		for _, s := range payload.Attitude {
			run.recon.ObserveAttitude(s)
		}
	case swath.PayloadRuntime:
		run.params.Append(paramRecord(payload.Runtime))
	case swath.PayloadInstallation:
		run.installation = payload.Installation
	case swath.PayloadPosition:
		run.recon.ObservePosition(*payload.Position)
	}
}

// finish orders pings by identity, stamps legacy pings with the
// parameter snapshot in force at ping time, and derives geometry.
func (run *conversion) finish(format swath.Format) {
	sort.SliceStable(run.pings, func(i, j int) bool {
		a, b := run.pings[i].ID, run.pings[j].ID
		if a.TimeUs != b.TimeUs {
			return a.TimeUs < b.TimeUs
		}
		return a.Counter < b.Counter
	})
	for i := range run.pings {
		p := &run.pings[i]
		if format == swath.FormatLegacy {
			if rec, ok := run.params.AsOf(p.ID.TimeUs); ok {
				p.PingMode = rec.PingMode
				p.PulseForm = rec.PulseForm
				p.SwathMode = rec.SwathMode
			}
		}
		swath.ExtractGeometry(p, run.installation)
	}
}

func (run *conversion) progress(recordStart, done int64) {
	if run.opts.Progress != nil {
		run.opts.Progress(done, run.total)
	}
	if run.opts.Metrics != nil {
		run.opts.Metrics.AddRecord(done - recordStart)
	}
}

func paramRecord(rt *swath.RuntimeParams) swath.ParameterRecord {
	return swath.ParameterRecord{
		TimeUs:        rt.TimeUs,
		MinDepthM:     rt.MinDepthM,
		MaxDepthM:     rt.MaxDepthM,
		MaxAngPortDeg: rt.MaxAngPortDeg,
		MaxAngStbdDeg: rt.MaxAngStbdDeg,
		MaxCovPortM:   rt.MaxCovPortM,
		MaxCovStbdM:   rt.MaxCovStbdM,
		PingMode:      rt.PingMode,
		PulseForm:     rt.PulseForm,
		SwathMode:     rt.SwathMode,
		Text:          rt.Text,
	}
}
