package api

import (
	"context"
	"fmt"
	"math/big"
)

// TradeRecord is one audit entry appended to a vault's on-chain trade
// history.
type TradeRecord struct {
	VaultID      string
	Action       string // open, increase, decrease, close
	PairType     string
	Amount       *big.Int
	Price        *big.Int
	ProfitAmount *big.Int
	IsProfit     bool
	Memo         string
}

// LedgerClient appends trade records to the vault module's ledger. Records
// travel through the same submitter path as orders.
type LedgerClient struct {
	submitter     TransactionSubmitter
	moduleAddress string
}

// NewLedgerClient creates a ledger client bound to one module address.
func NewLedgerClient(submitter TransactionSubmitter, moduleAddress string) *LedgerClient {
	return &LedgerClient{
		submitter:     submitter,
		moduleAddress: moduleAddress,
	}
}

// AppendTradeRecord records a replicated action in the vault's trade history
// and returns the committing transaction hash.
func (l *LedgerClient) AppendTradeRecord(ctx context.Context, rec TradeRecord) (string, error) {
	if rec.Amount == nil || rec.Price == nil {
		return "", fmt.Errorf("ledger: record needs amount and price")
	}
	profit := rec.ProfitAmount
	if profit == nil {
		profit = big.NewInt(0)
	}

	payload := EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      l.moduleAddress + "::vault::record_trade",
		TypeArguments: []string{},
		Arguments: []any{
			rec.VaultID,
			rec.Action,
			rec.PairType,
			rec.Amount.String(),
			rec.Price.String(),
			profit.String(),
			rec.IsProfit,
			rec.Memo,
		},
	}

	hash, err := l.submitter.Submit(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("ledger: append trade record: %w", err)
	}
	return hash, nil
}
