package auditsink

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Miles0sage/openclaw-assistant/internal/adapter/breaker"
	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// BreakerSink wraps a durable sink with circuit breaker protection so a
// failing store does not tie up a write timeout per record.
type BreakerSink struct {
	inner   domain.AuditSink
	breaker *gobreaker.CircuitBreaker[[]domain.AuditRecord]
}

// NewBreakerSink wraps inner.
func NewBreakerSink(inner domain.AuditSink, s breaker.Settings, logger *slog.Logger) *BreakerSink {
	return &BreakerSink{
		inner:   inner,
		breaker: breaker.New[[]domain.AuditRecord]("audit:"+inner.Name(), s, logger),
	}
}

func (b *BreakerSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	_, err := b.breaker.Execute(func() ([]domain.AuditRecord, error) {
		return nil, b.inner.Append(ctx, rec)
	})
	return breaker.Wrap("audit", "BreakerSink.Append", b.inner.Name(), err)
}

func (b *BreakerSink) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	recs, err := b.breaker.Execute(func() ([]domain.AuditRecord, error) {
		return b.inner.Query(ctx, filter)
	})
	if err != nil {
		return nil, breaker.Wrap("audit", "BreakerSink.Query", b.inner.Name(), err)
	}
	return recs, nil
}

// Prune forwards to the inner sink, bypassing the breaker.
func (b *BreakerSink) Prune(ctx context.Context, before time.Time) (int, error) {
	if p, ok := b.inner.(domain.AuditPruner); ok {
		return p.Prune(ctx, before)
	}
	return 0, nil
}

func (b *BreakerSink) Name() string { return b.inner.Name() }

func (b *BreakerSink) Close() error { return b.inner.Close() }

// State returns the current circuit breaker state for monitoring.
func (b *BreakerSink) State() gobreaker.State { return b.breaker.State() }

var (
	_ domain.AuditSink   = (*BreakerSink)(nil)
	_ domain.AuditPruner = (*BreakerSink)(nil)
)
