package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/govern"
)

// DefaultPrefix is the name prefix of exported reports.
const DefaultPrefix = "reports/"

// timeLayout sorts lexically in chronological order.
const timeLayout = "20060102T150405.000000000Z"

// ReportSource produces the report to export.
type ReportSource interface {
	Report(recentErrors int) govern.Report
}

// Options configures an Exporter.
type Options struct {
	// Codec compresses each report. Defaults to CodecNone.
	Codec Codec

	// Keep is the number of newest reports retained when the sink is a
	// Pruner. 0 keeps everything.
	Keep int

	// Prefix is prepended to every name. Defaults to DefaultPrefix.
	Prefix string

	// RecentErrors is passed to Report. 0 uses govern.DefaultReportErrors.
	RecentErrors int

	Logger *govern.Logger
	Now    func() time.Time
}

// Exporter writes governor reports to a Sink.
type Exporter struct {
	source ReportSource
	sink   Sink
	opts   Options
}

// New creates an Exporter.
func New(source ReportSource, sink Sink, optFns ...func(o *Options)) *Exporter {
	opts := Options{
		Prefix: DefaultPrefix,
		Logger: govern.NoopLogger(),
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = govern.NoopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Exporter{source: source, sink: sink, opts: opts}
}

// Name returns the blob name for a report taken at t.
func (e *Exporter) Name(t time.Time) string {
	return e.opts.Prefix + t.UTC().Format(timeLayout) + "-" + uuid.NewString() + ".json" + e.opts.Codec.Extension()
}

// Export writes one report and applies retention. It returns the name written.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	report := e.source.Report(e.opts.RecentErrors)

	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("export: encode report: %w", err)
	}
	data, err = e.opts.Codec.Encode(data)
	if err != nil {
		return "", fmt.Errorf("export: compress report: %w", err)
	}

	name := e.Name(e.opts.Now())
	if err := e.sink.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("export: put %s: %w", name, err)
	}

	e.opts.Logger.DebugContext(ctx, "report exported",
		"name", name,
		"codec", e.opts.Codec.String(),
		"bytes", len(data),
	)

	if err := e.prune(ctx); err != nil {
		return name, err
	}
	return name, nil
}

func (e *Exporter) prune(ctx context.Context) error {
	p, ok := e.sink.(Pruner)
	if !ok || e.opts.Keep <= 0 {
		return nil
	}

	names, err := p.List(ctx, e.opts.Prefix)
	if err != nil {
		return fmt.Errorf("export: list: %w", err)
	}

	reports := names[:0]
	for _, n := range names {
		if strings.Contains(n, ".json") {
			reports = append(reports, n)
		}
	}
	if len(reports) <= e.opts.Keep {
		return nil
	}

	var errs []error
	for _, n := range reports[:len(reports)-e.opts.Keep] {
		if err := p.Delete(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("export: delete %s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// Run exports every interval until ctx is done. Failed exports are logged
// and do not stop the loop.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("export: interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.opts.Logger.WarnContext(ctx, "report export failed", "error", err)
			}
		}
	}
}
