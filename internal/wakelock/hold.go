// Package wakelock удерживает хост от засыпания на время доставки уведомления.
package wakelock

import (
	"context"
	"sync"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/wb-go/wbf/zlog"
)

// Hold удержание с таймаутом. Освобождается ровно один раз: вручную, по таймауту или при отмене контекста.
type Hold struct {
	tag     string
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	release func() error
}

func newHold(ctx context.Context, tag string, timeout time.Duration, release func() error) *Hold {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	h := &Hold{tag: tag, ctx: hctx, cancel: cancel, release: release}
	// таймаут или отмена родителя тоже освобождают удержание
	context.AfterFunc(hctx, h.Release)
	return h
}

func (h *Hold) Context() context.Context {
	return h.ctx
}

func (h *Hold) Release() {
	h.once.Do(func() {
		h.cancel()
		if h.release == nil {
			return
		}
		if err := h.release(); err != nil {
			zlog.Logger.Warn().Err(err).Str("tag", h.tag).Msg("failed to release wake hold")
		}
	})
}

// Noop удержание без системной блокировки, только таймаут.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, tag string, timeout time.Duration) (domain.WakeHold, error) {
	return newHold(ctx, tag, timeout, nil), nil
}
