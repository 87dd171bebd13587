// Package poller runs scheduled-mail dispatch on a fixed interval.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/euphoria1203/campus-email/internal/delivery"
)

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = time.Minute

// Dispatcher delivers the scheduled messages due at now.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (delivery.DispatchResult, error)
}

// Config holds poller settings.
type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
	// Now is the time source handed to the dispatcher.
	Now func() time.Time
}

// Poller calls a Dispatcher once at start and then on every tick.
type Poller struct {
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Poller.
func New(d Dispatcher, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Poller{
		dispatcher: d,
		interval:   cfg.Interval,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Run blocks until ctx is cancelled. A batch already running when ctx is
// cancelled finishes under a context detached from the cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Dispatch poller started", slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Dispatch poller stopped")
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one dispatch batch.
func (p *Poller) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := p.dispatcher.DispatchDue(context.WithoutCancel(ctx), p.now())
	if err != nil {
		p.logger.Error("Dispatch batch failed", slog.String("error", err.Error()))
		return
	}
	if res.Failed > 0 {
		p.logger.Warn("Some scheduled messages failed and will be retried",
			slog.Int("failed", res.Failed),
			slog.Int("due", res.Due))
	}
}
