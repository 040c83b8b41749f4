package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)


type fakeExplorer struct {
	mu           sync.Mutex
	utxos        []UTXO
	broadcastErr int
	broadcastMsg string
	broadcasted  []string
	txs          map[string]string
	tip          int64
}

func (f *fakeExplorer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var funded int64
		for _, u := range f.utxos {
			funded += u.Value
		}
		_, _ = io.WriteString(w, `{"address":"`+r.PathValue("addr")+`","chain_stats":{"funded_txo_sum":`+itoa(funded)+`,"spent_txo_sum":0}}`)
	})
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.utxos)
	})
	mux.HandleFunc("GET /fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"3": 2.0, "6": 1.0}`)
	})
	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		if f.broadcastErr != 0 {
			http.Error(w, f.broadcastMsg, f.broadcastErr)
			return
		}
		f.broadcasted = append(f.broadcasted, string(body))
		_, _ = io.WriteString(w, "ok")
	})
	mux.HandleFunc("GET /tx/{hash}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, ok := f.txs[r.PathValue("hash")]
		if !ok {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("GET /blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, _ = io.WriteString(w, itoa(f.tip))
	})
	return mux
}

func (f *fakeExplorer) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func confirmedUTXO(txid string, value int64) UTXO {
	u := UTXO{TxID: txid, Vout: 0, Value: value}
	u.Status.Confirmed = true
	return u
}

func newTestAdapter(t *testing.T, confirmations int64) (*Adapter, *fakeExplorer) {
	t.Helper()
	f := &fakeExplorer{txs: make(map[string]string)}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	client := NewClient(ClientConfig{Network: "testnet", APIURL: srv.URL}, logger)
	a, err := New(client, Config{Network: "testnet", Confirmations: confirmations}, logger)
	require.NoError(t, err)
	return a, f
}

func newWallet(t *testing.T, a *Adapter) (*domain.GeneratedWallet, []byte) {
	t.Helper()
	key, err := security.GenerateKey()
	require.NoError(t, err)
	w, err := a.GenerateWallet(context.Background(), key)
	require.NoError(t, err)
	return w, key
}

func recipient(t *testing.T, a *Adapter) string {
	w, _ := newWallet(t, a)
	return w.Address
}

func TestGenerateWallet(t *testing.T) {
	a, _ := newTestAdapter(t, 1)
	w, key := newWallet(t, a)
	to := recipient(t, a)

	require.NoError(t, a.ValidateAddress(w.Address))
	assert.True(t, strings.HasPrefix(w.Address, "m") || strings.HasPrefix(w.Address, "n"))

	mnemonic, err := security.Decrypt(w.EncryptedMnemonic, key)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(string(mnemonic)), 12)

	priv, err := decryptKey(w.EncryptedPrivateKey, key)
	require.NoError(t, err)
	addr, err := p2pkhAddress(priv.PubKey(), a.params)
	require.NoError(t, err)
	assert.Equal(t, w.Address, addr.EncodeAddress())
}

func TestValidateAddress(t *testing.T) {
	a, _ := newTestAdapter(t, 1)

	assert.NoError(t, a.ValidateAddress(recipient(t, a)))
	// mainnet address on a testnet adapter
	assert.ErrorIs(t, a.ValidateAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"), domain.ErrValidation)
	assert.ErrorIs(t, a.ValidateAddress("not-an-address"), domain.ErrValidation)
}

func TestGetBalance(t *testing.T) {
	a, f := newTestAdapter(t, 1)
	f.utxos = []UTXO{confirmedUTXO(strings.Repeat("ab", 32), 150_000_000)}

	bal, err := a.GetBalance(context.Background(), recipient(t, a))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(bal))
}

func TestEstimateFee(t *testing.T) {
	a, _ := newTestAdapter(t, 1)

	fee, err := a.EstimateFee(context.Background(), &domain.FeeRequest{Asset: a.NativeAsset()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), fee.FeeRate.Int64())
	assert.True(t, decimal.RequireFromString("0.00000452").Equal(fee.EstimatedTotal), fee.EstimatedTotal.String())

	_, err = a.EstimateFee(context.Background(), &domain.FeeRequest{Asset: domain.Asset{Symbol: "USDT", Contract: "x"}})
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)
}

func TestSendTransaction(t *testing.T) {
	a, f := newTestAdapter(t, 1)
	w, key := newWallet(t, a)
	to := recipient(t, a)
	f.utxos = []UTXO{confirmedUTXO(strings.Repeat("ab", 32), 100_000)}

	res, err := a.SendTransaction(context.Background(), &domain.SendRequest{
		From:                w.Address,
		To:                  to,
		Amount:              decimal.RequireFromString("0.0005"),
		Asset:               a.NativeAsset(),
		EncryptedPrivateKey: w.EncryptedPrivateKey,
		EncryptionKey:       key,
	})
	require.NoError(t, err)
	assert.Len(t, res.Hash, 64)
	assert.True(t, decimal.RequireFromString("0.00000452").Equal(res.Fee))

	require.Len(t, f.broadcasted, 1)
	var tx wire.MsgTx
	raw, err := decodeHex(f.broadcasted[0])
	require.NoError(t, err)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	assert.Equal(t, res.Hash, tx.TxHash().String())
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(50_000), tx.TxOut[0].Value)
	assert.Equal(t, int64(100_000-50_000-452), tx.TxOut[1].Value)

	// the same output is reserved and cannot fund a second spend
	_, err = a.SendTransaction(context.Background(), &domain.SendRequest{
		From:                w.Address,
		To:                  to,
		Amount:              decimal.RequireFromString("0.0001"),
		Asset:               a.NativeAsset(),
		EncryptedPrivateKey: w.EncryptedPrivateKey,
		EncryptionKey:       key,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestSendTransactionErrors(t *testing.T) {
	a, f := newTestAdapter(t, 1)
	w, key := newWallet(t, a)
	to := recipient(t, a)
	f.utxos = []UTXO{confirmedUTXO(strings.Repeat("cd", 32), 100_000)}

	req := func(amount string) *domain.SendRequest {
		return &domain.SendRequest{
			From:                w.Address,
			To:                  to,
			Amount:              decimal.RequireFromString(amount),
			Asset:               a.NativeAsset(),
			EncryptedPrivateKey: w.EncryptedPrivateKey,
			EncryptionKey:       key,
		}
	}

	_, err := a.SendTransaction(context.Background(), req("0.000005"))
	assert.ErrorIs(t, err, domain.ErrValidation, "below dust")

	_, err = a.SendTransaction(context.Background(), req("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	other, err := security.GenerateKey()
	require.NoError(t, err)
	bad := req("0.0001")
	bad.EncryptionKey = other
	_, err = a.SendTransaction(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrDecryption)

	f.set(func() {
		f.broadcastErr, f.broadcastMsg = http.StatusBadRequest, "sendrawtransaction RPC error: bad-txns-inputs-missingorspent"
	})
	_, err = a.SendTransaction(context.Background(), req("0.0001"))
	require.ErrorIs(t, err, domain.ErrSubmission)
	var unknown *domain.SubmissionUnknownError
	assert.False(t, errors.As(err, &unknown))
}

func TestSendTransactionUnknownOutcome(t *testing.T) {
	a, f := newTestAdapter(t, 1)
	w, key := newWallet(t, a)
	to := recipient(t, a)
	f.utxos = []UTXO{confirmedUTXO(strings.Repeat("ef", 32), 100_000)}
	f.broadcastErr, f.broadcastMsg = http.StatusBadGateway, "upstream timeout"

	_, err := a.SendTransaction(context.Background(), &domain.SendRequest{
		From:                w.Address,
		To:                  to,
		Amount:              decimal.RequireFromString("0.0001"),
		Asset:               a.NativeAsset(),
		EncryptedPrivateKey: w.EncryptedPrivateKey,
		EncryptionKey:       key,
	})
	var unknown *domain.SubmissionUnknownError
	require.True(t, errors.As(err, &unknown))
	assert.Len(t, unknown.Hash, 64)
	assert.False(t, domain.IsRetryableSubmission(err))
}

func TestGetTransactionStatus(t *testing.T) {
	a, f := newTestAdapter(t, 3)
	hash := strings.Repeat("12", 32)

	st, err := a.GetTransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, st.Status)

	f.set(func() {
		f.txs[hash] = `{"txid":"` + hash + `","fee":452,"status":{"confirmed":true,"block_height":100,"block_hash":"00ff"}}`
		f.tip = 101
	})
	st, err = a.GetTransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, st.Status)
	assert.Equal(t, int64(2), st.Confirmations)

	f.set(func() { f.tip = 102 })
	st, err = a.GetTransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusConfirmed, st.Status)
	assert.Equal(t, int64(100), *st.BlockNumber)
	assert.True(t, decimal.RequireFromString("0.00000452").Equal(*st.FeeUsed))
}

func TestSelectUTXOs(t *testing.T) {
	unconfirmed := UTXO{TxID: "a", Value: 1_000_000}
	utxos := []UTXO{confirmedUTXO("b", 20_000), unconfirmed, confirmedUTXO("c", 60_000)}

	sel, err := selectUTXOs(utxos, 50_000, 1)
	require.NoError(t, err)
	require.Len(t, sel.inputs, 1)
	assert.Equal(t, "c", sel.inputs[0].TxID)
	assert.Equal(t, int64(226), sel.fee)
	assert.Equal(t, int64(60_000-50_000-226), sel.change)

	// change at or below dust is folded into the fee
	sel, err = selectUTXOs([]UTXO{confirmedUTXO("d", 50_500)}, 50_000, 1)
	require.NoError(t, err)
	assert.Zero(t, sel.change)
	assert.Equal(t, int64(500), sel.fee)

	_, err = selectUTXOs(utxos, 90_000, 1)
	assert.ErrorIs(t, err, errInsufficientUTXOs)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}
