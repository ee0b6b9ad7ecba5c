package engine

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cachewire/cachewire-go/pkg/model"
)

// Mutation is a locally issued write: a partial update (delta) to one
// entity. The id is a ULID, so lexicographic order is issue order.
type Mutation struct {
	ID         string           `json:"id"`
	EntityType model.EntityType `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Delta      map[string]any   `json:"delta"`
	IssuedAt   time.Time        `json:"issuedAt"`
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(crand.Reader, 0)
)

// NewMutationID returns a fresh ULID. Ids generated by one process are
// strictly increasing.
func NewMutationID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Now(), idEntropy).String()
}

// MutationSender sends mutations over the active connection.
// Implemented by the client's wire layer.
type MutationSender interface {
	SendMutate(m *Mutation) error
}

// pendingMutation tracks a mutation between issue and confirmation.
type pendingMutation struct {
	mutation *Mutation

	// timer fires the rollback when no confirmation arrives in time.
	// Nil while the mutation sits in the offline queue.
	timer *time.Timer

	// ackCh, when non-nil, is closed once the backend acks the mutation.
	// Set by the replay loop, which sends one mutation per ack.
	ackCh chan struct{}

	// keys are the entries optimistically patched for this mutation.
	keys []string
}
