package reconciler

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind classifies a status update.
type Kind string

const (
	KindRequest   Kind = "request"
	KindComplete  Kind = "complete"
	KindLegendary Kind = "legendary"
	KindPrizePool Kind = "prizepool"
	KindError     Kind = "error"
)

// StatusUpdate is one entry of the normalized on-chain event stream. It is
// immutable once emitted.
type StatusUpdate struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Address     *common.Address `json:"address,omitempty"`
	BlockNumber *uint64         `json:"blockNumber,omitempty"`
	Reward      *big.Int        `json:"reward,omitempty"`
	PrizePool   *big.Int        `json:"prizePool,omitempty"`
	TxHash      *common.Hash    `json:"txHash,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Message     string          `json:"message"`
}

func newUpdate(kind Kind, message string, now time.Time) StatusUpdate {
	return StatusUpdate{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: now,
		Message:   message,
	}
}

// DisplayWindow is how many entries the presentation layer shows.
const DisplayWindow = 5

// StatusLog is an append-only, time-ordered update log. The full history is
// retained for reconciliation; Recent serves the bounded display window.
type StatusLog struct {
	mu      sync.RWMutex
	entries []StatusUpdate
}

func NewStatusLog() *StatusLog {
	return &StatusLog{entries: make([]StatusUpdate, 0)}
}

func (l *StatusLog) Append(update StatusUpdate) {
	l.mu.Lock()
	l.entries = append(l.entries, update)
	l.mu.Unlock()
}

// Recent returns the newest n entries, oldest first.
func (l *StatusLog) Recent(n int) []StatusUpdate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]StatusUpdate, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// All returns a copy of the full log.
func (l *StatusLog) All() []StatusUpdate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]StatusUpdate, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *StatusLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
