package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"sketchroom/internal/app/game"
	"sketchroom/internal/pkg/logx"
)

// listenRetryDelay is the pause before re-establishing a dropped LISTEN connection.
const listenRetryDelay = 3 * time.Second

// Subscriber holds one dedicated connection on LISTEN and fans received
// envelopes into the handler. The handler runs on the subscriber goroutine
// and must not block; the room engine only posts into buffered loops.
type Subscriber struct {
	pool    *pgxpool.Pool
	handler func(*game.Envelope)
	logger  zerolog.Logger
}

// NewSubscriber constructs a Subscriber delivering into handler.
func NewSubscriber(pool *pgxpool.Pool, handler func(*game.Envelope)) *Subscriber {
	return &Subscriber{
		pool:    pool,
		handler: handler,
		logger:  logx.Logger().With().Str("component", "Subscriber").Logger(),
	}
}

// Run blocks listening for notifications until ctx is cancelled. Connection
// drops are retried; notifications issued while disconnected are lost, which
// is acceptable because every event also updates the versioned state rooms
// refresh from.
func (s *Subscriber) Run(ctx context.Context) {
	s.logger.Info().Str("channel", notifyChannel).Msg("Subscriber loop started.")

	for {
		if err := s.listen(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("Subscriber loop stopped.")
				return
			}
			s.logger.Error().Err(err).Msg("Listen connection failed. Reconnecting.")
		}

		select {
		case <-time.After(listenRetryDelay):
		case <-ctx.Done():
			s.logger.Info().Msg("Subscriber loop stopped.")
			return
		}
	}
}

// listen acquires one connection, subscribes, and consumes notifications until
// the connection or context dies.
func (s *Subscriber) listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		env := &game.Envelope{}
		if err := json.Unmarshal([]byte(notification.Payload), env); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed envelope notification.")
			continue
		}

		s.handler(env)
	}
}
