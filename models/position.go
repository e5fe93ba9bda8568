package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Action identifies what kind of mirrored trade was performed.
type Action string

const (
	ActionOpen     Action = "open"
	ActionIncrease Action = "increase"
	ActionDecrease Action = "decrease"
	ActionClose    Action = "close"
)

// Position is an open derivatives exposure on one trading pair.
// All amounts are exact on-chain integers in base units; no floating point
// is used at this layer.
type Position struct {
	PairType   string   `json:"pair_type"` // resource-qualified pair, e.g. 0xabc::pair_types::BTC_USD
	Size       *big.Int `json:"size"`
	Collateral *big.Int `json:"collateral"`
	IsLong     bool     `json:"is_long"`
	EntryPrice *big.Int `json:"entry_price"`
}

// Clone returns a deep copy so snapshot entries never alias fetched data.
func (p Position) Clone() Position {
	return Position{
		PairType:   p.PairType,
		Size:       new(big.Int).Set(p.Size),
		Collateral: new(big.Int).Set(p.Collateral),
		IsLong:     p.IsLong,
		EntryPrice: new(big.Int).Set(p.EntryPrice),
	}
}

// Validate checks that all required fields are present.
func (p Position) Validate() error {
	if p.PairType == "" {
		return fmt.Errorf("position: missing pair type")
	}
	if p.Size == nil || p.Collateral == nil || p.EntryPrice == nil {
		return fmt.Errorf("position %s: missing amount fields", p.PairType)
	}
	if p.Size.Sign() < 0 || p.Collateral.Sign() < 0 || p.EntryPrice.Sign() < 0 {
		return fmt.Errorf("position %s: negative amount", p.PairType)
	}
	return nil
}

// AccountUpdate is a validated push notification from the account update
// feed. The replicator only uses it as a trigger to re-read on-chain state;
// the fields beyond Address exist for logging and auditing.
type AccountUpdate struct {
	Address   string    `json:"address"`
	Kind      string    `json:"kind"` // position_event, order_event, ...
	PairType  string    `json:"pair_type,omitempty"`
	Version   uint64    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate rejects malformed feed payloads at the boundary.
func (u AccountUpdate) Validate() error {
	if u.Address == "" {
		return fmt.Errorf("account update: missing address")
	}
	if u.Kind == "" {
		return fmt.Errorf("account update: missing kind")
	}
	return nil
}

// MirrorAction is the audit record of one replicated trade attempt.
type MirrorAction struct {
	ID              int64     `json:"id"`
	LeaderAddress   string    `json:"leader_address"`
	VaultID         string    `json:"vault_id"`
	PairType        string    `json:"pair_type"`
	Action          Action    `json:"action"`
	SizeDelta       *big.Int  `json:"size_delta"`
	CollateralDelta *big.Int  `json:"collateral_delta"`
	IsLong          bool      `json:"is_long"`
	IsIncrease      bool      `json:"is_increase"`
	Price           *big.Int  `json:"price"`
	TxHash          string    `json:"tx_hash"`
	LedgerTxHash    string    `json:"ledger_tx_hash"`
	Status          string    `json:"status"` // executed, failed
	ErrorReason     string    `json:"error_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MirrorPosition tracks the exposure actually opened on the vault side for
// one pair. Close actions unwind this, not the leader's absolute amounts.
type MirrorPosition struct {
	LeaderAddress string    `json:"leader_address"`
	VaultID       string    `json:"vault_id"`
	PairType      string    `json:"pair_type"`
	Size          *big.Int  `json:"size"`
	Collateral    *big.Int  `json:"collateral"`
	IsLong        bool      `json:"is_long"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Leader is a lead trader whose account is being mirrored into a vault.
type Leader struct {
	Address string    `json:"address"`
	VaultID string    `json:"vault_id"`
	Enabled bool      `json:"enabled"`
	AddedAt time.Time `json:"added_at"`
}

// ParseAmount parses an on-chain integer amount. Aptos JSON encodes u64/u128
// values as decimal strings.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
