package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// indicatorChannel carries value hashes whose indicators changed. Payloads
// are comma-joined hashes, chunked under the 8000-byte NOTIFY limit.
const indicatorChannel = "indicator_changes"

const notifyChunk = 100

// NotifyIndicatorChanges publishes changed value hashes so every process can
// drop affected TI query results and verdicts. Lost notifications are
// bounded by cache TTLs, so failures only log.
func (db *DB) NotifyIndicatorChanges(ctx context.Context, hashes []string) {
	for start := 0; start < len(hashes); start += notifyChunk {
		end := start + notifyChunk
		if end > len(hashes) {
			end = len(hashes)
		}
		payload := strings.Join(hashes[start:end], ",")
		if _, err := db.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, indicatorChannel, payload); err != nil {
			db.logger.Warn("notify indicator changes failed", "err", err, "hashes", end-start)
			return
		}
	}
}

// ChangeListener subscribes to indicator change notifications and fans the
// hashes out to registered handlers (cache invalidators).
type ChangeListener struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	handlers []func(valueHash string)
}

// NewChangeListener creates a listener; register handlers before Listen.
func NewChangeListener(pool *pgxpool.Pool, logger *slog.Logger) *ChangeListener {
	return &ChangeListener{pool: pool, logger: logger}
}

// OnChange registers a handler invoked for every changed value hash.
func (cl *ChangeListener) OnChange(fn func(valueHash string)) {
	cl.handlers = append(cl.handlers, fn)
}

// Listen blocks on the notification channel until ctx is cancelled or the
// connection drops. Run inside RunWithRecovery so it reconnects.
func (cl *ChangeListener) Listen(ctx context.Context) {
	conn, err := cl.pool.Acquire(ctx)
	if err != nil {
		cl.logger.Error("change-listen: acquire connection failed", "err", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", indicatorChannel)); err != nil {
		cl.logger.Error("change-listen: LISTEN failed", "err", err)
		return
	}
	cl.logger.Info("change-listen: subscribed", "channel", indicatorChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cl.logger.Error("change-listen: notification error", "err", err)
			return
		}
		for _, hash := range strings.Split(notification.Payload, ",") {
			hash = strings.TrimSpace(hash)
			if hash == "" {
				continue
			}
			for _, fn := range cl.handlers {
				fn(hash)
			}
		}
	}
}
