// internal/chains/bitcoin/transaction.go
package bitcoin

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	DustLimit = 546 // satoshis

	baseTxSize = 10
	inputSize  = 148 // P2PKH
	outputSize = 34

	sequenceRBF = 0xfffffffd
)

// EstimateSize estimates a P2PKH transaction size in vbytes
func EstimateSize(inputs, outputs int) int64 {
	return int64(baseTxSize + inputs*inputSize + outputs*outputSize)
}

// selection is the outcome of coin selection.
type selection struct {
	inputs []UTXO
	total  int64
	fee    int64
	change int64
}

var errInsufficientUTXOs = fmt.Errorf("insufficient balance: no spendable utxos cover amount and fee")

// selectUTXOs picks confirmed outputs largest-first until amount plus fee is
// covered. Change below the dust limit is left to the miner.
func selectUTXOs(utxos []UTXO, amount, feeRate int64) (*selection, error) {
	candidates := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Status.Confirmed && u.Value > 0 {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Value > candidates[j].Value })

	sel := &selection{}
	for _, u := range candidates {
		sel.inputs = append(sel.inputs, u)
		sel.total += u.Value

		withChange := EstimateSize(len(sel.inputs), 2) * feeRate
		if sel.total >= amount+withChange {
			change := sel.total - amount - withChange
			if change > DustLimit {
				sel.fee, sel.change = withChange, change
				return sel, nil
			}
			// no change output: everything above amount goes to fee
			sel.fee = sel.total - amount
			return sel, nil
		}

		noChange := EstimateSize(len(sel.inputs), 1) * feeRate
		if sel.total >= amount+noChange {
			sel.fee = sel.total - amount
			return sel, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d sats, need %d sats plus fee", errInsufficientUTXOs, sel.total, amount)
}

// TransactionBuilder builds Bitcoin transactions
type TransactionBuilder struct {
	network    *chaincfg.Params
	tx         *wire.MsgTx
	privateKey *btcec.PrivateKey
	pkScript   []byte
	inputs     []UTXO
}

// NewTransactionBuilder spends P2PKH outputs owned by privateKey.
func NewTransactionBuilder(params *chaincfg.Params, privateKey *btcec.PrivateKey) (*TransactionBuilder, error) {
	addr, err := p2pkhAddress(privateKey.PubKey(), params)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkScript: %w", err)
	}

	return &TransactionBuilder{
		network:    params,
		tx:         wire.NewMsgTx(wire.TxVersion),
		privateKey: privateKey,
		pkScript:   pkScript,
	}, nil
}

// AddInput adds a UTXO input to the transaction
func (tb *TransactionBuilder) AddInput(utxo UTXO) error {
	prevHash, err := chainhash.NewHashFromStr(utxo.TxID)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}

	txIn := wire.NewTxIn(wire.NewOutPoint(prevHash, utxo.Vout), nil, nil)
	// opt in to replace-by-fee
	txIn.Sequence = sequenceRBF

	tb.tx.AddTxIn(txIn)
	tb.inputs = append(tb.inputs, utxo)
	return nil
}

// AddOutput adds an output to the transaction
func (tb *TransactionBuilder) AddOutput(address string, amountSats int64) error {
	addr, err := btcutil.DecodeAddress(address, tb.network)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return fmt.Errorf("failed to create script: %w", err)
	}

	tb.tx.AddTxOut(wire.NewTxOut(amountSats, pkScript))
	return nil
}

// Sign signs all inputs with SIGHASH_ALL
func (tb *TransactionBuilder) Sign() error {
	publicKey := tb.privateKey.PubKey().SerializeCompressed()

	for i := range tb.inputs {
		sigHash, err := txscript.CalcSignatureHash(tb.pkScript, txscript.SigHashAll, tb.tx, i)
		if err != nil {
			return fmt.Errorf("failed to calculate signature hash: %w", err)
		}

		signature := ecdsa.Sign(tb.privateKey, sigHash)
		sigBytes := append(signature.Serialize(), byte(txscript.SigHashAll))

		sigScript, err := txscript.NewScriptBuilder().
			AddData(sigBytes).
			AddData(publicKey).
			Script()
		if err != nil {
			return fmt.Errorf("failed to build signature script: %w", err)
		}
		tb.tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// Serialize returns the raw transaction hex
func (tb *TransactionBuilder) Serialize() (string, error) {
	var buf bytes.Buffer
	if err := tb.tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// TxHash returns the transaction id
func (tb *TransactionBuilder) TxHash() string {
	return tb.tx.TxHash().String()
}

// CalculateFee returns inputs minus outputs
func (tb *TransactionBuilder) CalculateFee() int64 {
	var totalInput int64
	for _, input := range tb.inputs {
		totalInput += input.Value
	}
	var totalOutput int64
	for _, output := range tb.tx.TxOut {
		totalOutput += output.Value
	}
	return totalInput - totalOutput
}
