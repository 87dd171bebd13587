package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
	"github.com/euphoria1203/campus-email/internal/telemetry"
)

// DispatchResult summarizes one DispatchDue call.
type DispatchResult struct {
	Due    int
	Sent   int
	Failed int
}

// DispatchDue delivers up to one batch of scheduled messages whose send
// time is at or before now. A failing message is logged and left
// scheduled so the next call retries it; the rest of the batch still
// runs. The returned error is only set when the batch could not be loaded.
func (e *Engine) DispatchDue(ctx context.Context, now time.Time) (DispatchResult, error) {
	var res DispatchResult

	due, err := e.store.Messages().FindDueScheduled(ctx, now, e.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to load scheduled messages: %w", err)
	}
	res.Due = len(due)

	for _, m := range due {
		if err := e.dispatchOne(ctx, m); err != nil {
			res.Failed++
			e.logger.Error("Scheduled dispatch failed",
				slog.String("message_id", m.ID),
				slog.String("owner_id", m.OwnerID),
				slog.String("error", err.Error()))
			continue
		}
		res.Sent++
	}

	e.otel.RecordDispatch(ctx, res.Due, res.Failed)
	if res.Due > 0 {
		e.logger.Info("Scheduled dispatch finished",
			slog.Int("due", res.Due),
			slog.Int("sent", res.Sent),
			slog.Int("failed", res.Failed))
	}
	return res, nil
}

// dispatchOne sends m externally, then fans it out and moves it to sent in
// one transaction. A message changed since it was loaded is skipped.
func (e *Engine) dispatchOne(ctx context.Context, m *email.Message) (err error) {
	start := time.Now()
	ctx, end := e.otel.StartSpan(ctx, "delivery.Dispatch", attribute.String("message.id", m.ID))
	var copies int
	var external bool
	defer func() {
		end(err)
		e.otel.RecordDelivery(ctx, telemetry.KindScheduled, time.Since(start), copies, external, err)
	}()

	external, err = e.sendExternal(ctx, m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return e.store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := tx.Messages().FindByID(ctx, m.ID)
		if store.IsNotFound(err) {
			e.logger.Warn("Scheduled message vanished before dispatch", slog.String("message_id", m.ID))
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Folder != email.FolderScheduled {
			return nil
		}

		copies, err = e.distribute(ctx, tx, cur)
		if err != nil {
			return err
		}

		sentAt := e.now()
		cur.Folder = email.FolderSent
		cur.IsDeleted = false
		cur.IsRead = true
		cur.SendTime = &sentAt
		return tx.Messages().Update(ctx, cur)
	})
}
