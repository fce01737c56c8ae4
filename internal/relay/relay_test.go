package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPersister struct {
	mu        sync.Mutex
	mutations []Mutation
	err       error
}

func (p *recordingPersister) PersistMutation(ctx context.Context, m Mutation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.mutations = append(p.mutations, m)
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mutations)
}

func TestRelay_PersistsMutation(t *testing.T) {
	// Arrange
	persister := &recordingPersister{}
	r := NewRelay(persister, zap.NewNop(), nil)
	m := Mutation{
		RoomID:    "doc1",
		AuthorID:  "userA",
		Kind:      "document-change",
		Payload:   json.RawMessage(`{"op":"insert"}`),
		Timestamp: time.Now(),
	}

	// Act
	r.persist(m)

	// Assert
	require.Equal(t, 1, persister.count())
	assert.Equal(t, "doc1", persister.mutations[0].RoomID)
	assert.Equal(t, "userA", persister.mutations[0].AuthorID)
}

func TestRelay_FailureIsCountedNotRetried(t *testing.T) {
	// Arrange
	persister := &recordingPersister{err: errors.New("storage down")}
	failures := 0
	r := NewRelay(persister, zap.NewNop(), func() { failures++ })

	// Act
	r.persist(Mutation{RoomID: "doc1", AuthorID: "userA", Kind: "task-updated"})

	// Assert: logged and counted, no retry, no panic
	assert.Equal(t, 1, failures)
	assert.Zero(t, persister.count())
}

func TestRelay_BreakerOpensUnderSustainedFailure(t *testing.T) {
	// Arrange
	persister := &recordingPersister{err: errors.New("storage down")}
	failures := 0
	r := NewRelay(persister, zap.NewNop(), func() { failures++ })

	// Act: enough consecutive failures to trip the breaker
	for i := 0; i < 10; i++ {
		r.persist(Mutation{RoomID: "doc1", AuthorID: "userA", Kind: "document-change"})
	}

	// Assert: every schedule reported a failure, and once open the
	// collaborator stops being called at all
	assert.Equal(t, 10, failures)

	persister.mu.Lock()
	persister.err = nil
	persister.mu.Unlock()

	r.persist(Mutation{RoomID: "doc1", AuthorID: "userA", Kind: "document-change"})
	assert.Zero(t, persister.count())
}

func TestRelay_ScheduleIsAsynchronous(t *testing.T) {
	// Arrange
	persister := &recordingPersister{}
	r := NewRelay(persister, zap.NewNop(), nil)

	// Act
	r.Schedule(Mutation{RoomID: "doc1", AuthorID: "userA", Kind: "fragment-added"})

	// Assert
	assert.Eventually(t, func() bool { return persister.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNopPersister(t *testing.T) {
	assert.NoError(t, NopPersister{}.PersistMutation(context.Background(), Mutation{}))
}
