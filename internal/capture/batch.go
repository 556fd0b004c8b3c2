package capture

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"MotoMind-Vision/pkg/logger"
	"MotoMind-Vision/pkg/plugin"
)

// DefaultBatchConcurrency bounds the sessions a Batch runs at once.
const DefaultBatchConcurrency = 4

// ManagerFactory builds a fresh plugin manager for one session. Managers are
// never shared, so per-session plugin state stays isolated.
type ManagerFactory func(ctx context.Context) (*plugin.Manager, error)

// Item is one document of a batch.
type Item struct {
	ID          string
	CaptureType string
	Values      map[string]any
	Acquirer    Acquirer
}

// ItemResult is the outcome of one item. Err is the terminal session error.
type ItemResult struct {
	ID        string
	SessionID string
	Attempts  int
	Result    *plugin.CaptureResult
	Err       error
}

// Batch runs many capture sessions concurrently.
type Batch struct {
	factory     ManagerFactory
	concurrency int
	options     []Option
	logger      *slog.Logger
}

// NewBatch creates a batch runner. opts apply to every session host.
func NewBatch(factory ManagerFactory, concurrency int, opts ...Option) *Batch {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Batch{factory: factory, concurrency: concurrency, options: opts, logger: logger.Named("capture")}
}

// Run processes items and returns one result per item in input order. A
// failing item does not stop the others.
func (b *Batch) Run(ctx context.Context, items []Item) []ItemResult {
	results := make([]ItemResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i] = b.runOne(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *Batch) runOne(ctx context.Context, item Item) ItemResult {
	out := ItemResult{ID: item.ID}
	m, err := b.factory(ctx)
	if err != nil {
		out.Err = err
		return out
	}
	defer func() {
		if err := m.DestroyAll(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("destroy session plugins failed", slog.String("item", item.ID), slog.Any("error", err))
		}
	}()

	opts := append([]Option{}, b.options...)
	opts = append(opts, WithCaptureType(item.CaptureType), WithValues(item.Values))
	host, err := NewHost(m, item.Acquirer, opts...)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result, out.Err = host.Run(ctx)
	session := host.Session()
	out.SessionID, out.Attempts = session.SessionID, session.Attempt
	return out
}
