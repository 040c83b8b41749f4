package evm

import (
	"context"
	"sync"

	"custody-service/internal/chains"
	"custody-service/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// nonceManager hands out strictly increasing nonces per sender. The node's
// pending count can lag behind a broadcast that just happened, so the last
// issued nonce is remembered and wins when it is ahead.
type nonceManager struct {
	locks *chains.KeyedMutex

	mu   sync.Mutex
	last map[common.Address]uint64
}

func newNonceManager() *nonceManager {
	return &nonceManager{
		locks: chains.NewKeyedMutex(),
		last:  make(map[common.Address]uint64),
	}
}

func (m *nonceManager) lock(chain domain.ChainID, addr common.Address) func() {
	return m.locks.Lock(chain.String() + ":" + addr.Hex())
}

// next must be called with the sender's lock held.
func (m *nonceManager) next(ctx context.Context, backend Backend, addr common.Address) (uint64, error) {
	pending, err := backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.last[addr]; ok && last+1 > pending {
		return last + 1, nil
	}
	return pending, nil
}

func (m *nonceManager) mark(addr common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.last[addr]; !ok || nonce > last {
		m.last[addr] = nonce
	}
}
