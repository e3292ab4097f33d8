package coverage

import (
	"encoding/json"
	"os"
	"time"

	"example.com/swathconv/internal/swath"
)

// SourceInfo summarizes one converted file contributing to a report.
type SourceInfo struct {
	Name      string       `json:"name"`
	Format    swath.Format `json:"format"`
	Pings     int          `json:"pings"`
	Soundings int          `json:"soundings"`
	Sha256    string       `json:"sha256,omitempty"`
}

// GroupRow is one coverage group flattened for serialization, with the
// width statistics already computed.
type GroupRow struct {
	Key        Key     `json:"key"`
	Pings      int     `json:"pings"`
	Soundings  int     `json:"soundings"`
	MinAcrossM float64 `json:"minAcrossM"`
	MaxAcrossM float64 `json:"maxAcrossM"`
	MinDepthM  float64 `json:"minDepthM"`
	MaxDepthM  float64 `json:"maxDepthM"`
	MeanWidthM float64 `json:"meanWidthM"`
	StdWidthM  float64 `json:"stdWidthM"`
}

// Report is the coverage analysis result over one or more converted
// files.
type Report struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Sources     []SourceInfo `json:"sources"`
	Groups      []GroupRow   `json:"groups"`
}

// BuildReport flattens an aggregator and its contributing sources into
// a serializable report.
func BuildReport(sources []SourceInfo, agg *Aggregator) Report {
	groups := agg.Groups()
	rows := make([]GroupRow, 0, len(groups))
	for _, g := range groups {
		mean, std := g.Extent.WidthStats()
		rows = append(rows, GroupRow{
			Key:        g.Key,
			Pings:      g.Extent.Pings,
			Soundings:  g.Extent.Soundings,
			MinAcrossM: g.Extent.MinAcrossM,
			MaxAcrossM: g.Extent.MaxAcrossM,
			MinDepthM:  g.Extent.MinDepthM,
			MaxDepthM:  g.Extent.MaxDepthM,
			MeanWidthM: mean,
			StdWidthM:  std,
		})
	}
	return Report{
		GeneratedAt: time.Now().UTC(),
		Sources:     sources,
		Groups:      rows,
	}
}

func SaveReportJSON(rep Report, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadReportJSON(path string) (Report, error) {
	var rep Report
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
