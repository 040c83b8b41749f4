package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/security"
	"custody-service/pkg/cache"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// STORES
// ============================================================================

type memWallets struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Wallet
}

func newMemWallets() *memWallets {
	return &memWallets{rows: make(map[int64]*domain.Wallet)}
}

func (m *memWallets) Create(_ context.Context, w *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.IsActive && r.UserID == w.UserID && r.Chain == w.Chain {
			return domain.ErrDuplicateWallet
		}
	}
	m.nextID++
	w.ID = m.nextID
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	cp := *w
	m.rows[w.ID] = &cp
	return nil
}

func (m *memWallets) GetByID(_ context.Context, id int64) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memWallets) GetActive(_ context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.IsActive && r.UserID == userID && r.Chain == chain {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memWallets) ListActive(_ context.Context, userID string) ([]*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Wallet
	for _, r := range m.rows {
		if r.IsActive && r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out, nil
}

func (m *memWallets) Deactivate(_ context.Context, userID string, chain domain.ChainID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.IsActive && r.UserID == userID && r.Chain == chain {
			r.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (m *memWallets) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Balance = balance
	r.LastSyncAt = &syncedAt
	return nil
}

type memTxs struct {
	mu      sync.Mutex
	rows    map[string]*domain.Transaction
	order   []string
	updates int
}

func newMemTxs() *memTxs {
	return &memTxs{rows: make(map[string]*domain.Transaction)}
}

func (m *memTxs) Create(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.TxHash != nil {
		for _, r := range m.rows {
			if r.TxHash != nil && *r.TxHash == *tx.TxHash {
				return fmt.Errorf("duplicate tx hash %s", *tx.TxHash)
			}
		}
	}
	tx.CreatedAt = time.Now()
	cp := *tx
	m.rows[tx.ID] = &cp
	m.order = append(m.order, tx.ID)
	return nil
}

func (m *memTxs) GetByID(_ context.Context, userID, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memTxs) ListByUser(_ context.Context, userID string, chain *domain.ChainID, limit, offset int) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.rows[m.order[i]]
		if r.UserID != userID || (chain != nil && r.Chain != *chain) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTxs) ListPending(_ context.Context, limit int) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, id := range m.order {
		r := m.rows[id]
		if r.Status == domain.TxStatusPending && r.TxHash != nil && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTxs) UpdateStatus(_ context.Context, id string, u *domain.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != domain.TxStatusPending {
		return false, nil
	}
	m.updates++
	r.Status = u.Status
	if u.BlockNumber != nil {
		r.BlockNumber = u.BlockNumber
	}
	if u.BlockHash != nil {
		r.BlockHash = u.BlockHash
	}
	if u.GasUsed != nil {
		r.GasUsed = u.GasUsed
	}
	if u.Fee != nil {
		r.Fee = u.Fee
	}
	if r.ConfirmedAt == nil {
		r.ConfirmedAt = u.ConfirmedAt
	}
	return true, nil
}

func (m *memTxs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memTxs) all() []*domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Transaction, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.rows[id]
		out = append(out, &cp)
	}
	return out
}

type memPins struct {
	mu   sync.Mutex
	rows map[string]domain.PinState
}

func newMemPins() *memPins {
	return &memPins{rows: make(map[string]domain.PinState)}
}

func (m *memPins) Get(_ context.Context, userID string) (*domain.PinState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[userID]
	if !ok {
		return &domain.PinState{UserID: userID}, nil
	}
	return &s, nil
}

func (m *memPins) Mutate(_ context.Context, userID string, fn func(s *domain.PinState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[userID]
	if !ok {
		return &domain.PinNotSetError{}
	}
	err := fn(&s)
	m.rows[userID] = s
	return err
}

func (m *memPins) Upsert(_ context.Context, userID string, fn func(s *domain.PinState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[userID]
	if !ok {
		s = domain.PinState{UserID: userID}
	}
	err := fn(&s)
	m.rows[userID] = s
	return err
}

type memTokens struct {
	rows map[string]*domain.Token
}

func (m *memTokens) GetBySymbol(_ context.Context, chain domain.ChainID, symbol string) (*domain.Token, error) {
	t, ok := m.rows[string(chain)+":"+strings.ToUpper(symbol)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *memTokens) ListByChain(_ context.Context, chain domain.ChainID) ([]*domain.Token, error) {
	var out []*domain.Token
	for _, t := range m.rows {
		if t.Chain == chain {
			out = append(out, t)
		}
	}
	return out, nil
}

// ============================================================================
// ADAPTER
// ============================================================================

type fakeAdapter struct {
	mu sync.Mutex

	chain    domain.ChainID
	symbol   string
	decimals int32

	generated   int
	balance     decimal.Decimal
	balanceErr  error
	sendErrs    []error
	sendCalls   int
	nonce       uint64
	statuses    map[string]*domain.TxStatusResult
	statusErr   error
	statusCalls int
	lastAsset   domain.Asset
	tokenBal    decimal.Decimal
}

func newFakeAdapter(chain domain.ChainID, symbol string) *fakeAdapter {
	return &fakeAdapter{
		chain:    chain,
		symbol:   symbol,
		decimals: 18,
		statuses: make(map[string]*domain.TxStatusResult),
	}
}

func (f *fakeAdapter) Chain() domain.ChainID { return f.chain }

func (f *fakeAdapter) NativeAsset() domain.Asset {
	return domain.Asset{Symbol: f.symbol, Decimals: f.decimals}
}

func (f *fakeAdapter) ValidateAddress(address string) error {
	if address == "" || strings.HasPrefix(address, "bad") {
		return domain.NewValidationError("address", "invalid address")
	}
	return nil
}

func (f *fakeAdapter) GenerateWallet(_ context.Context, key []byte) (*domain.GeneratedWallet, error) {
	f.mu.Lock()
	f.generated++
	n := f.generated
	f.mu.Unlock()

	priv, err := security.GenerateKey()
	if err != nil {
		return nil, err
	}
	encKey, err := security.Encrypt(priv, key)
	if err != nil {
		return nil, err
	}
	encMnemonic, err := security.Encrypt([]byte("abandon ability able"), key)
	if err != nil {
		return nil, err
	}
	return &domain.GeneratedWallet{
		Address:             fmt.Sprintf("%s-addr-%d", f.chain, n),
		PublicKey:           fmt.Sprintf("pub-%d", n),
		EncryptedPrivateKey: encKey,
		EncryptedMnemonic:   encMnemonic,
	}, nil
}

func (f *fakeAdapter) GetBalance(context.Context, string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeAdapter) GetTokenBalance(_ context.Context, _ string, asset domain.Asset) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAsset = asset
	return f.tokenBal, nil
}

func (f *fakeAdapter) SendTransaction(_ context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	// the key must unlock the wallet's private key
	raw, err := security.Decrypt(req.EncryptedPrivateKey, req.EncryptionKey)
	if err != nil {
		return nil, err
	}
	security.Zero(raw)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.lastAsset = req.Asset
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	n := f.nonce
	f.nonce++
	return &domain.SendResult{
		Hash:  fmt.Sprintf("0xhash%d", n),
		Nonce: &n,
		Fee:   decimal.RequireFromString("0.00021"),
	}, nil
}

func (f *fakeAdapter) EstimateFee(_ context.Context, req *domain.FeeRequest) (*domain.FeeEstimate, error) {
	return &domain.FeeEstimate{EstimatedTotal: decimal.RequireFromString("0.1"), Currency: f.symbol, Fixed: true}, nil
}

func (f *fakeAdapter) GetTransactionStatus(_ context.Context, hash string) (*domain.TxStatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if st, ok := f.statuses[hash]; ok {
		return st, nil
	}
	return &domain.TxStatusResult{Status: domain.TxStatusPending}, nil
}

func (f *fakeAdapter) setStatus(hash string, st *domain.TxStatusResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[hash] = st
}

// ============================================================================
// HARNESS
// ============================================================================

type harness struct {
	wallets *memWallets
	txs     *memTxs
	pinRows *memPins
	tokens  *memTokens
	adapter *fakeAdapter
	grants  *cache.MemoryStore

	walletUC *WalletUsecase
	pinUC    *PinUsecase
	txUC     *TransactionUsecase
	recon    *Reconciler
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	master, err := security.GenerateMasterKey()
	require.NoError(t, err)
	wrapper, err := security.NewKeyWrapperFromKey(master)
	require.NoError(t, err)

	contract := "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	h := &harness{
		wallets: newMemWallets(),
		txs:     newMemTxs(),
		pinRows: newMemPins(),
		tokens: &memTokens{rows: map[string]*domain.Token{
			"ethereum:USDT": {ID: 7, Chain: domain.ChainEthereum, Symbol: "USDT", ContractAddress: &contract, Decimals: 6, IsActive: true},
			"ethereum:OLD":  {ID: 8, Chain: domain.ChainEthereum, Symbol: "OLD", ContractAddress: &contract, Decimals: 6, IsActive: false},
		}},
		adapter: newFakeAdapter(domain.ChainEthereum, "ETH"),
		grants:  cache.NewMemoryStore(),
		clock:   &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}

	registry := chains.NewRegistry()
	registry.Register(h.adapter)

	h.walletUC = NewWalletUsecase(h.wallets, h.tokens, registry, wrapper, logger)
	h.walletUC.now = h.clock.Now
	h.pinUC = NewPinUsecase(h.pinRows, security.NewPinHasher(4), h.grants, domain.DefaultPinPolicy(), 5*time.Minute, logger)
	h.pinUC.now = h.clock.Now
	h.recon = NewReconciler(h.txs, registry, logger)
	h.recon.now = h.clock.Now
	h.txUC = NewTransactionUsecase(h.txs, h.tokens, registry, h.walletUC, h.pinUC, h.recon, logger)
	return h
}

// ready creates an Ethereum wallet and PIN "1234" for user.
func (h *harness) ready(t *testing.T, user string) *domain.Wallet {
	t.Helper()
	w, err := h.walletUC.CreateWallet(context.Background(), user, domain.ChainEthereum)
	require.NoError(t, err)
	require.NoError(t, h.pinUC.SetPin(context.Background(), user, "1234", true))
	return w
}

func (h *harness) grant(t *testing.T, user string) string {
	t.Helper()
	g, err := h.pinUC.AuthorizeTransfer(context.Background(), user, "1234")
	require.NoError(t, err)
	return g.Token
}
