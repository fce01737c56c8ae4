package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Mutation is an ephemeral document-change message on its way to room peers
// and, best-effort, to durable storage. The payload is opaque: this layer
// relays and sequences, it does not resolve concurrent edits.
type Mutation struct {
	RoomID    string          `json:"roomId"`
	AuthorID  string          `json:"authorId"`
	Kind      string          `json:"kind"` // document-change, fragment-added, task-updated
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Persister is the external collaborator that owns mutation history
type Persister interface {
	PersistMutation(ctx context.Context, m Mutation) error
}

// Relay schedules asynchronous durable writes of mutations already delivered
// live to room peers. Persistence and live relay are independent: a failed
// write is logged and counted, never retried, and never affects peers that
// already received the broadcast.
type Relay struct {
	persister Persister
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
	logger    *zap.Logger
	onFailure func()
}

// NewRelay creates a mutation relay around the given persistence collaborator
func NewRelay(persister Persister, logger *zap.Logger, onFailure func()) *Relay {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mutation-persistence",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Persistence circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	if onFailure == nil {
		onFailure = func() {}
	}

	return &Relay{
		persister: persister,
		breaker:   cb,
		timeout:   10 * time.Second,
		logger:    logger,
		onFailure: onFailure,
	}
}

// Schedule hands the mutation to the persistence collaborator on a separate
// goroutine. It returns immediately; callers have already completed the live
// rebroadcast by the time this is invoked.
func (r *Relay) Schedule(m Mutation) {
	go r.persist(m)
}

func (r *Relay) persist(m Mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.persister.PersistMutation(ctx, m)
	})
	if err != nil {
		r.onFailure()
		r.logger.Error("Failed to persist mutation",
			zap.Error(err),
			zap.String("roomID", m.RoomID),
			zap.String("authorID", m.AuthorID),
			zap.String("kind", m.Kind),
		)
		return
	}

	r.logger.Debug("Mutation persisted",
		zap.String("roomID", m.RoomID),
		zap.String("kind", m.Kind),
	)
}
