package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/comanda-app/api/internal/auth"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventPublisher receives committed changes. Satisfied by *events.Broker.
type EventPublisher interface {
	Publish(e events.Event)
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// ActorFromClaims builds an Actor from validated token claims.
func ActorFromClaims(c *auth.Claims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{ID: c.UserID, Role: c.Role}
}

func (a Actor) IsStaff() bool {
	return a.Role == enum.RoleStaff
}

// owns reports whether a customer actor placed or owns the order.
func (a Actor) owns(o database.Order) bool {
	if o.CustomerID.Valid && uuid.UUID(o.CustomerID.Bytes) == a.ID {
		return true
	}
	return o.CreatedBy == a.ID
}

// ReadBackOff builds the retry policy for idempotent reads.
type ReadBackOff func() backoff.BackOff

// DefaultReadBackOff retries a read up to 3 times with exponential delays.
func DefaultReadBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// retryRead runs an idempotent read, retrying transient failures.
// pgx.ErrNoRows and context errors are returned immediately and unwrapped;
// any other error that survives the retries becomes a *PersistenceError.
// Writes must never go through here.
func retryRead[T any](ctx context.Context, policy ReadBackOff, op string, fn func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultReadBackOff
	}
	res, err := backoff.RetryWithData(func() (T, error) {
		v, err := fn()
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(policy(), ctx))
	if err != nil {
		if isPermanent(err) {
			return res, err
		}
		return res, persistenceErr(op, err)
	}
	return res, nil
}

func isPermanent(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func publish(p EventPublisher, typ string, id uuid.UUID, status string, payload any) {
	if p == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	p.Publish(events.Event{
		Type:       typ,
		EntityID:   id,
		Status:     status,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	})
}
