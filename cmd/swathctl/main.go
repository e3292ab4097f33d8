package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"example.com/swathconv/internal/common"
	"example.com/swathconv/internal/container"
	"example.com/swathconv/internal/coverage"
	"example.com/swathconv/internal/manifest"
	"example.com/swathconv/internal/pipeline"
	"example.com/swathconv/internal/swath"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "convert":
		convertCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "coverage":
		coverageCmd(os.Args[2:])
	case "info":
		infoCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`swathctl %s (built %s) <command> [options]

Commands:
  convert   --in <capture> [--out <file.swc>] [--compress] [--progress] [--metrics] [--diagnostics <file.ndjson>]
  batch     --in <dir> [--out-dir <dir>] [--compress] [--overwrite] [--workers <n>] [--manifest <manifest.json>]
  coverage  --inputs <comma-separated .swc> [--out <coverage.json>] [--pdf <coverage.pdf>]
  info      --in <file.swc>
  manifest  --inputs <comma-separated> --out <manifest.json>
`, version, buildDate)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func convertCmd(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input capture (.kmall or .all)")
	out := fs.String("out", "", "output container path (default: alongside input)")
	compress := fs.Bool("compress", false, "gzip the container payload")
	diagPath := fs.String("diagnostics", "", "diagnostics output (ndjson)")
	metricsFlag := fs.Bool("metrics", false, "print conversion throughput metrics")
	progressFlag := fs.Bool("progress", false, "display conversion progress updates")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	dst := *out
	if dst == "" {
		dst = pipeline.OutputPath(*in, "")
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if info, err := os.Stat(*in); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}

	ctx, cancel := signalContext()
	defer cancel()
	res, err := pipeline.ConvertFile(ctx, *in, dst, pipeline.Options{
		Compress: *compress,
		Metrics:  metrics,
	})
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}
	if err != nil {
		fmt.Println("convert:", err)
		os.Exit(1)
	}
	if *diagPath != "" {
		if err := saveDiagnosticsNDJSON(*diagPath, res.Diagnostics); err != nil {
			fmt.Println("write diagnostics:", err)
			os.Exit(1)
		}
	}
	errs, warns := countBySeverity(res.Diagnostics)
	fmt.Printf("%s: format=%s pings=%d soundings=%d errors=%d warnings=%d -> %s\n",
		filepath.Base(*in), res.Model.Meta.Format, len(res.Model.Pings), res.Model.SoundingCount(), errs, warns, dst)
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		throughputBps := snap.ThroughputBytesPerSecond()
		fmt.Printf("Metrics: duration=%s records=%d pings=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Records,
			snap.Pings,
			common.FormatBytes(snap.Bytes),
			throughputBps/1_000_000,
		)
	}
}

func batchCmd(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", "", "input directory scanned for captures")
	outDir := fs.String("out-dir", "", "output directory (default: next to each capture)")
	compress := fs.Bool("compress", false, "gzip the container payloads")
	overwrite := fs.Bool("overwrite", false, "reconvert even when an up-to-date container exists")
	workers := fs.Int("workers", runtime.NumCPU(), "concurrent conversions")
	manifestOut := fs.String("manifest", "", "write a manifest of produced containers")
	fs.Parse(args)

	if *inDir == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	sources, err := collectCaptures(*inDir)
	if err != nil {
		fmt.Println("scan inputs:", err)
		os.Exit(1)
	}
	if len(sources) == 0 {
		fmt.Println("no capture files found in", *inDir)
		os.Exit(1)
	}
	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			fmt.Println("out dir:", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	items, err := pipeline.ConvertBatch(ctx, sources, pipeline.BatchOptions{
		OutDir:    *outDir,
		Compress:  *compress,
		Overwrite: *overwrite,
		Workers:   *workers,
	})
	if err != nil {
		fmt.Println("batch:", err)
		os.Exit(1)
	}

	converted, skipped, failed := 0, 0, 0
	var outputs []string
	for _, item := range items {
		switch {
		case item.Err != nil:
			failed++
			fmt.Printf("%s: FAILED: %v\n", filepath.Base(item.Source), item.Err)
		case item.Skipped:
			skipped++
			fmt.Printf("%s: up to date\n", filepath.Base(item.Source))
		default:
			converted++
			errs, warns := countBySeverity(item.Diagnostics)
			fmt.Printf("%s: pings=%d soundings=%d errors=%d warnings=%d -> %s\n",
				filepath.Base(item.Source), item.Pings, item.Soundings, errs, warns, item.Output)
			outputs = append(outputs, item.Output)
		}
	}
	fmt.Printf("Batch: %d converted, %d up to date, %d failed\n", converted, skipped, failed)

	if *manifestOut != "" && len(outputs) > 0 {
		m, err := manifest.Build(outputs)
		if err != nil {
			fmt.Println("build manifest:", err)
			os.Exit(1)
		}
		if err := manifest.Save(m, *manifestOut); err != nil {
			fmt.Println("write manifest:", err)
			os.Exit(1)
		}
		fmt.Printf("Manifest: %d items -> %s\n", len(m.Items), *manifestOut)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func coverageCmd(args []string) {
	fs := flag.NewFlagSet("coverage", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated container paths")
	out := fs.String("out", "coverage.json", "coverage report output (json)")
	pdfOut := fs.String("pdf", "", "coverage report output (pdf)")
	fs.Parse(args)

	if *inputs == "" {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}
	agg := coverage.NewAggregator()
	var sources []coverage.SourceInfo
	for _, path := range splitInputs(*inputs) {
		model, err := container.Load(path)
		if err != nil {
			fmt.Printf("load %s: %v\n", path, err)
			os.Exit(1)
		}
		agg.AddModel(model)
		info := coverage.SourceInfo{
			Name:      model.Meta.SourceName,
			Format:    model.Meta.Format,
			Pings:     len(model.Pings),
			Soundings: model.SoundingCount(),
		}
		if hex, _, err := common.Sha256OfFile(path); err == nil {
			info.Sha256 = hex
		}
		sources = append(sources, info)
	}
	rep := coverage.BuildReport(sources, agg)
	if err := coverage.SaveReportJSON(rep, *out); err != nil {
		fmt.Println("write report:", err)
		os.Exit(1)
	}
	if *pdfOut != "" {
		if err := coverage.SaveCoveragePDF(rep, *pdfOut); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Coverage: %d sources, %d groups -> %s\n", len(rep.Sources), len(rep.Groups), *out)
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	in := fs.String("in", "", "container path (.swc)")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	model, err := container.Load(*in)
	if err != nil {
		fmt.Println("load:", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Source\t%s\n", model.Meta.SourceName)
	fmt.Fprintf(w, "Format\t%s\n", model.Meta.Format)
	fmt.Fprintf(w, "Source size\t%s\n", common.FormatBytes(model.Meta.SourceSize))
	fmt.Fprintf(w, "Converted\t%s\n", time.UnixMicro(model.Meta.ConvertedAtUs).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Compressed\t%v\n", model.Meta.Compressed)
	fmt.Fprintf(w, "Pings\t%d\n", len(model.Pings))
	fmt.Fprintf(w, "Soundings\t%d\n", model.SoundingCount())
	fmt.Fprintf(w, "Parameter records\t%d\n", len(model.Params))
	incomplete := 0
	for i := range model.Pings {
		if model.Pings[i].Incomplete {
			incomplete++
		}
	}
	if incomplete > 0 {
		fmt.Fprintf(w, "Incomplete pings\t%d\n", incomplete)
	}
	if inst := model.Installation; inst != nil {
		fmt.Fprintf(w, "Sounder serial\t%s\n", inst.Serial)
		fmt.Fprintf(w, "TX mount\tY=%.2fm Z=%.2fm\n", inst.TX.YM, inst.TX.ZM)
	}
	if len(model.Pings) > 0 {
		first := model.Pings[0].ID.TimeUs
		last := model.Pings[len(model.Pings)-1].ID.TimeUs
		fmt.Fprintf(w, "Time span\t%s .. %s\n",
			time.UnixMicro(first).UTC().Format(time.RFC3339),
			time.UnixMicro(last).UTC().Format(time.RFC3339))
		modes := pingModes(model.Pings)
		fmt.Fprintf(w, "Ping modes\t%s\n", strings.Join(modes, ", "))
	}
	w.Flush()
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated file paths")
	out := fs.String("out", "manifest.json", "manifest output path")
	fs.Parse(args)

	if *inputs == "" {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}
	m, err := manifest.Build(splitInputs(*inputs))
	if err != nil {
		fmt.Println("build manifest:", err)
		os.Exit(1)
	}
	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("write manifest:", err)
		os.Exit(1)
	}
	fmt.Printf("Manifest: %d items -> %s\n", len(m.Items), *out)
}

// collectCaptures lists capture files directly under dir, by extension.
func collectCaptures(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".kmall", ".all":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func splitInputs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func countBySeverity(diags []swath.Diagnostic) (errs, warns int) {
	for _, d := range diags {
		switch d.Severity {
		case swath.ERROR:
			errs++
		case swath.WARN:
			warns++
		}
	}
	return errs, warns
}

func pingModes(pings []swath.LogicalPing) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range pings {
		label := pings[i].PingMode.String()
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

func saveDiagnosticsNDJSON(path string, diags []swath.Diagnostic) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, d := range diags {
		if err := enc.Encode(d); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
