// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus moves one way only: pending -> confirmed or pending -> failed.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// CanTransitionTo reports whether the status may move to next.
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	return s == TxStatusPending && next.IsTerminal()
}

// FraudContext is captured at send time for later analysis.
type FraudContext struct {
	DeviceInfo string `json:"device_info,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Transaction is one submitted transfer
type Transaction struct {
	ID       string
	UserID   string
	WalletID int64
	TokenID  *int64

	Chain       ChainID
	TxHash      *string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	Symbol      string

	// Fees
	Fee      *decimal.Decimal
	GasPrice *decimal.Decimal
	GasLimit *int64
	GasUsed  *int64
	Nonce    *int64

	// Blockchain
	BlockNumber *int64
	BlockHash   *string

	Status     TxStatus
	IsIncoming bool
	Memo       *string

	// Fraud context
	FraudContext
	PinAttempts int

	SubmissionNote *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}

// StatusUpdate is the reconciler's write set.
type StatusUpdate struct {
	Status      TxStatus
	BlockNumber *int64
	BlockHash   *string
	GasUsed     *int64
	Fee         *decimal.Decimal
	ConfirmedAt *time.Time
}

// TransactionView is the caller-facing projection of a Transaction.
type TransactionView struct {
	ID          string     `json:"id"`
	Chain       ChainID    `json:"chain"`
	TxHash      string     `json:"tx_hash,omitempty"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Amount      string     `json:"amount"`
	Symbol      string     `json:"symbol"`
	Fee         string     `json:"fee,omitempty"`
	Nonce       *int64     `json:"nonce,omitempty"`
	BlockNumber *int64     `json:"block_number,omitempty"`
	Status      TxStatus   `json:"status"`
	IsIncoming  bool       `json:"is_incoming"`
	Memo        string     `json:"memo,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func (t *Transaction) View() TransactionView {
	v := TransactionView{
		ID:          t.ID,
		Chain:       t.Chain,
		From:        t.FromAddress,
		To:          t.ToAddress,
		Amount:      t.Amount.String(),
		Symbol:      t.Symbol,
		Nonce:       t.Nonce,
		BlockNumber: t.BlockNumber,
		Status:      t.Status,
		IsIncoming:  t.IsIncoming,
		CreatedAt:   t.CreatedAt,
		ConfirmedAt: t.ConfirmedAt,
	}
	if t.TxHash != nil {
		v.TxHash = *t.TxHash
	}
	if t.Fee != nil {
		v.Fee = t.Fee.String()
	}
	if t.Memo != nil {
		v.Memo = *t.Memo
	}
	if t.SubmissionNote != nil {
		v.Note = *t.SubmissionNote
	}
	return v
}
