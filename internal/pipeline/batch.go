package pipeline

import (
	"context"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"example.com/swathconv/internal/swath"
)

// BatchOptions controls a multi-file conversion run.
type BatchOptions struct {
	// OutDir receives the containers; empty keeps each next to its source.
	OutDir string
	// Compress selects gzip container payloads.
	Compress bool
	// Overwrite converts even when an up-to-date container exists.
	Overwrite bool
	// Workers bounds concurrent conversions; zero means NumCPU.
	Workers int
}

// BatchItem is the outcome for one source file. Exactly one of
// Skipped, Err, or a populated Result applies.
type BatchItem struct {
	Source      string
	Output      string
	Skipped     bool
	Err         error
	Pings       int
	Soundings   int
	Diagnostics []swath.Diagnostic
}

// ConvertBatch converts each source concurrently and reports one item
// per source, in input order. Per-file failures land in the item; the
// returned error is reserved for cancellation.
func ConvertBatch(ctx context.Context, sources []string, opts BatchOptions) ([]BatchItem, error) {
	items := make([]BatchItem, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g.SetLimit(workers)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := BatchItem{Source: src, Output: OutputPath(src, opts.OutDir)}
			if !opts.Overwrite && upToDate(src, item.Output) {
				item.Skipped = true
				items[i] = item
				return nil
			}
			res, err := ConvertFile(ctx, src, item.Output, Options{Compress: opts.Compress})
			if err != nil {
				item.Err = err
				items[i] = item
				return nil
			}
			item.Pings = len(res.Model.Pings)
			item.Soundings = res.Model.SoundingCount()
			item.Diagnostics = res.Diagnostics
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	return items, nil
}

// upToDate reports whether dst exists and is at least as new as src.
func upToDate(src, dst string) bool {
	ds, err := os.Stat(dst)
	if err != nil {
		return false
	}
	ss, err := os.Stat(src)
	if err != nil {
		return false
	}
	return !ds.ModTime().Before(ss.ModTime())
}
