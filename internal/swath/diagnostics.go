package swath

import (
	"fmt"
	"time"
)

// Severity grades a diagnostic.
type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

// Code names a condition from the conversion error taxonomy. A single
// damaged record degrades its own contribution; only truncation stops
// framing and only container corruption fails closed.
type Code string

const (
	TruncatedRecord    Code = "TruncatedRecord"
	UnrecognizedRecord Code = "UnrecognizedRecord"
	MalformedPayload   Code = "MalformedPayload"
	DuplicatePartition Code = "DuplicatePartition"
	IncompletePing     Code = "IncompletePing"
	ContainerFormat    Code = "ContainerFormatError"
	IOFailure          Code = "IOFailure"
)

// Diagnostic records one non-fatal condition observed while converting
// a file, with enough context to report exactly what was skipped.
type Diagnostic struct {
	Ts          time.Time `json:"ts"`
	File        string    `json:"file"`
	RecordIndex int       `json:"recordIndex"`
	Offset      int64     `json:"offset"`
	Code        Code      `json:"code"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
}

// NewDiagnostic stamps a diagnostic with the current time.
func NewDiagnostic(file string, recordIndex int, offset int64, code Code, sev Severity, format string, args ...any) Diagnostic {
	return Diagnostic{
		Ts:          time.Now().UTC(),
		File:        file,
		RecordIndex: recordIndex,
		Offset:      offset,
		Code:        code,
		Severity:    sev,
		Message:     fmt.Sprintf(format, args...),
	}
}
