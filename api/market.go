package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"aptos-mirror/models"
)

// MarketClient reads perpetuals state from the exchange's on-chain modules
// and constructs (but does not submit) order payloads.
type MarketClient struct {
	node          *FullnodeClient
	moduleAddress string
}

// MarketOrderRequest describes one market order against a trading pair.
type MarketOrderRequest struct {
	PairType        string
	UserAddress     string
	SizeDelta       *big.Int
	CollateralDelta *big.Int
	IsLong          bool
	IsIncrease      bool
}

// positionData mirrors the on-chain Position resource layout. Amounts are
// JSON-encoded decimal strings (Aptos u64).
type positionData struct {
	Size       string `json:"size"`
	Collateral string `json:"collateral"`
	IsLong     bool   `json:"is_long"`
	EntryPrice string `json:"avg_price"`
}

// NewMarketClient creates a market data client bound to one module address.
func NewMarketClient(node *FullnodeClient, moduleAddress string) *MarketClient {
	return &MarketClient{
		node:          node,
		moduleAddress: moduleAddress,
	}
}

// GetPositions returns the full current position set for an account. One
// position per pair; zero-size resources (closed positions the chain has not
// yet garbage collected) are skipped.
func (m *MarketClient) GetPositions(ctx context.Context, address string) ([]models.Position, error) {
	resources, err := m.node.GetAccountResources(ctx, address)
	if err != nil {
		return nil, err
	}

	prefix := m.moduleAddress + "::trading::Position<"
	positions := make([]models.Position, 0, 4)

	for _, res := range resources {
		if !strings.HasPrefix(res.Type, prefix) {
			continue
		}
		pairType, ok := genericArgument(res.Type)
		if !ok {
			return nil, fmt.Errorf("market: malformed position resource type %q", res.Type)
		}

		pos, err := parsePosition(pairType, res.Data)
		if err != nil {
			return nil, fmt.Errorf("market: %w", err)
		}
		if pos.Size.Sign() == 0 {
			continue
		}
		positions = append(positions, pos)
	}

	return positions, nil
}

// BuildMarketOrderPayload constructs a place_market_order entry function
// call. Submission is the Submitter's job.
func (m *MarketClient) BuildMarketOrderPayload(req MarketOrderRequest) EntryFunctionPayload {
	return EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      m.moduleAddress + "::trading::place_market_order",
		TypeArguments: []string{req.PairType},
		Arguments: []any{
			req.UserAddress,
			req.SizeDelta.String(),
			req.CollateralDelta.String(),
			req.IsLong,
			req.IsIncrease,
		},
	}
}

// GetVaultBalance reads a vault's current total value in base units.
func (m *MarketClient) GetVaultBalance(ctx context.Context, vaultID string) (*big.Int, error) {
	return m.viewAmount(ctx, m.moduleAddress+"::vault::vault_value", vaultID)
}

// GetAccountValue reads the total account value (collateral plus unrealized
// PnL) for any trading account. Used to scale mirrored sizes.
func (m *MarketClient) GetAccountValue(ctx context.Context, address string) (*big.Int, error) {
	return m.viewAmount(ctx, m.moduleAddress+"::trading::account_value", address)
}

func (m *MarketClient) viewAmount(ctx context.Context, function, arg string) (*big.Int, error) {
	out, err := m.node.View(ctx, ViewRequest{
		Function:  function,
		Arguments: []any{arg},
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("market: %s returned no values", function)
	}

	var raw string
	if err := json.Unmarshal(out[0], &raw); err != nil {
		return nil, fmt.Errorf("market: decode %s result: %w", function, err)
	}
	return models.ParseAmount(raw)
}

// parsePosition validates and converts one Position resource. Rejecting
// malformed payloads here keeps undefined amounts out of the diff engine.
func parsePosition(pairType string, data json.RawMessage) (models.Position, error) {
	var raw positionData
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Position{}, fmt.Errorf("position %s: decode: %w", pairType, err)
	}

	size, err := models.ParseAmount(raw.Size)
	if err != nil {
		return models.Position{}, fmt.Errorf("position %s: size: %w", pairType, err)
	}
	collateral, err := models.ParseAmount(raw.Collateral)
	if err != nil {
		return models.Position{}, fmt.Errorf("position %s: collateral: %w", pairType, err)
	}
	entryPrice, err := models.ParseAmount(raw.EntryPrice)
	if err != nil {
		return models.Position{}, fmt.Errorf("position %s: avg_price: %w", pairType, err)
	}

	return models.Position{
		PairType:   pairType,
		Size:       size,
		Collateral: collateral,
		IsLong:     raw.IsLong,
		EntryPrice: entryPrice,
	}, nil
}

// genericArgument extracts the single type parameter from a resource type
// like 0xabc::trading::Position<0xabc::pair_types::BTC_USD>.
func genericArgument(resourceType string) (string, bool) {
	open := strings.Index(resourceType, "<")
	if open < 0 || !strings.HasSuffix(resourceType, ">") {
		return "", false
	}
	arg := resourceType[open+1 : len(resourceType)-1]
	if arg == "" {
		return "", false
	}
	return arg, true
}
