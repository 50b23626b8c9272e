package orchestrator

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ProcessedTransactionSet remembers which completion transactions have
// already triggered image synthesis. The confirmation watcher and the
// event subscription can both report the same completion; whichever
// arrives second must be a no-op.
type ProcessedTransactionSet struct {
	mu   sync.Mutex
	seen map[common.Hash]struct{}
}

func NewProcessedTransactionSet() *ProcessedTransactionSet {
	return &ProcessedTransactionSet{seen: make(map[common.Hash]struct{})}
}

// MarkIfNew records hash and reports true if it had not been seen before.
// The check and the insert happen under one lock acquisition.
func (p *ProcessedTransactionSet) MarkIfNew(hash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[hash]; ok {
		return false
	}
	p.seen[hash] = struct{}{}
	return true
}

func (p *ProcessedTransactionSet) Contains(hash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[hash]
	return ok
}

func (p *ProcessedTransactionSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
