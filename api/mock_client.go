package api

import (
	"context"
	"math/big"
	"sync"
	"time"

	"aptos-mirror/models"
)

// MarketAPI defines the market-data capabilities the replicator consumes.
// This interface enables dependency injection for testing.
type MarketAPI interface {
	GetPositions(ctx context.Context, address string) ([]models.Position, error)
	BuildMarketOrderPayload(req MarketOrderRequest) EntryFunctionPayload
	GetVaultBalance(ctx context.Context, vaultID string) (*big.Int, error)
	GetAccountValue(ctx context.Context, address string) (*big.Int, error)
}

// TransactionSubmitter signs, broadcasts and finalizes one payload.
type TransactionSubmitter interface {
	Submit(ctx context.Context, payload EntryFunctionPayload) (string, error)
	Address() string
}

// TradeLedger appends audit records to the vault trade history.
type TradeLedger interface {
	AppendTradeRecord(ctx context.Context, rec TradeRecord) (string, error)
}

// Ensure real clients implement their interfaces
var _ MarketAPI = (*MarketClient)(nil)
var _ TransactionSubmitter = (*Submitter)(nil)
var _ TradeLedger = (*LedgerClient)(nil)
var _ StreamDialer = (*WSDialer)(nil)

// Ensure mocks implement the interfaces
var _ MarketAPI = (*MockMarketClient)(nil)
var _ TransactionSubmitter = (*MockSubmitter)(nil)
var _ TradeLedger = (*MockLedger)(nil)
var _ StreamDialer = (*MockStreamDialer)(nil)
var _ StreamSession = (*MockStreamSession)(nil)

// MockMarketClient is a mock market data client for testing
type MockMarketClient struct {
	mu sync.Mutex

	// Response data
	Positions     []models.Position
	VaultValue    *big.Int
	AccountValue  *big.Int
	AccountValues map[string]*big.Int // per-address overrides; AccountValue is the fallback

	// Call tracking
	Calls map[string]int

	// Error injection (one-shot, keyed by method name)
	ErrorOnNext map[string]error
}

// NewMockMarketClient creates a mock market client
func NewMockMarketClient() *MockMarketClient {
	return &MockMarketClient{
		VaultValue:    big.NewInt(0),
		AccountValue:  big.NewInt(0),
		AccountValues: make(map[string]*big.Int),
		Calls:         make(map[string]int),
		ErrorOnNext:   make(map[string]error),
	}
}

func (m *MockMarketClient) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// SetPositions replaces the canned position set.
func (m *MockMarketClient) SetPositions(positions []models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = positions
}

func (m *MockMarketClient) GetPositions(ctx context.Context, address string) ([]models.Position, error) {
	if err := m.trackCall("GetPositions"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, len(m.Positions))
	for i, p := range m.Positions {
		out[i] = p.Clone()
	}
	return out, nil
}

func (m *MockMarketClient) BuildMarketOrderPayload(req MarketOrderRequest) EntryFunctionPayload {
	m.mu.Lock()
	m.Calls["BuildMarketOrderPayload"]++
	m.mu.Unlock()
	return EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      "0xmock::trading::place_market_order",
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

func (m *MockMarketClient) GetVaultBalance(ctx context.Context, vaultID string) (*big.Int, error) {
	if err := m.trackCall("GetVaultBalance"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.VaultValue), nil
}

func (m *MockMarketClient) GetAccountValue(ctx context.Context, address string) (*big.Int, error) {
	if err := m.trackCall("GetAccountValue"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.AccountValues[address]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int).Set(m.AccountValue), nil
}

// MockSubmitter is a mock transaction submitter for testing
type MockSubmitter struct {
	mu sync.Mutex

	// Submitted payloads in order
	Submitted []EntryFunctionPayload

	// Error injection: FailOnPair fails any payload whose first type
	// argument matches; ErrorOnNext fails the next Submit call.
	FailOnPair  map[string]error
	ErrorOnNext error

	Calls int
}

// NewMockSubmitter creates a mock submitter
func NewMockSubmitter() *MockSubmitter {
	return &MockSubmitter{
		FailOnPair: make(map[string]error),
	}
}

func (m *MockSubmitter) Submit(ctx context.Context, payload EntryFunctionPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++

	if m.ErrorOnNext != nil {
		err := m.ErrorOnNext
		m.ErrorOnNext = nil
		return "", err
	}
	if len(payload.TypeArguments) > 0 {
		if err, ok := m.FailOnPair[payload.TypeArguments[0]]; ok {
			return "", err
		}
	}

	m.Submitted = append(m.Submitted, payload)
	return "0xmocktx", nil
}

func (m *MockSubmitter) Address() string {
	return "0xmockvaultoperator"
}

// SubmittedPayloads returns a copy of all successfully submitted payloads.
func (m *MockSubmitter) SubmittedPayloads() []EntryFunctionPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EntryFunctionPayload, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}

// MockLedger is a mock trade ledger for testing
type MockLedger struct {
	mu sync.Mutex

	Records     []TradeRecord
	ErrorOnNext error
	Calls       int
}

// NewMockLedger creates a mock ledger client
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

func (m *MockLedger) AppendTradeRecord(ctx context.Context, rec TradeRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.ErrorOnNext != nil {
		err := m.ErrorOnNext
		m.ErrorOnNext = nil
		return "", err
	}
	m.Records = append(m.Records, rec)
	return "0xmockledgertx", nil
}

// RecordedActions returns the appended record actions in order.
func (m *MockLedger) RecordedActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, len(m.Records))
	for i, r := range m.Records {
		actions[i] = r.Action
	}
	return actions
}

// MockStreamDialer hands out scripted sessions for testing
type MockStreamDialer struct {
	mu sync.Mutex

	// Each Connect consumes one queued result; an empty queue yields a
	// fresh open session.
	Queue []ConnectResult

	ConnectCalls int
	ConnectTimes []int64 // unix nanos, for retry timing assertions
}

// ConnectResult scripts one Connect outcome.
type ConnectResult struct {
	Session *MockStreamSession
	Err     error
}

// NewMockStreamDialer creates a mock stream dialer
func NewMockStreamDialer() *MockStreamDialer {
	return &MockStreamDialer{}
}

func (d *MockStreamDialer) Connect(ctx context.Context) (StreamSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls++
	d.ConnectTimes = append(d.ConnectTimes, time.Now().UnixNano())

	if len(d.Queue) > 0 {
		next := d.Queue[0]
		d.Queue = d.Queue[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		return next.Session, nil
	}
	return NewMockStreamSession(), nil
}

// Connects returns how many times Connect was called.
func (d *MockStreamDialer) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ConnectCalls
}

// MockStreamSession is a scriptable feed session
type MockStreamSession struct {
	mu         sync.Mutex
	updates    chan models.AccountUpdate
	err        error
	ended      bool
	Subscribed []string
	SubErr     error
}

// NewMockStreamSession creates an open mock session
func NewMockStreamSession() *MockStreamSession {
	return &MockStreamSession{
		updates: make(chan models.AccountUpdate, 16),
	}
}

func (s *MockStreamSession) Subscribe(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubErr != nil {
		return s.SubErr
	}
	s.Subscribed = append(s.Subscribed, address)
	return nil
}

// SubscribedTo returns the addresses subscribed on this session.
func (s *MockStreamSession) SubscribedTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Subscribed))
	copy(out, s.Subscribed)
	return out
}

func (s *MockStreamSession) Updates() <-chan models.AccountUpdate {
	return s.updates
}

func (s *MockStreamSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MockStreamSession) Close() error {
	s.end(nil)
	return nil
}

// Push delivers one update to the subscriber.
func (s *MockStreamSession) Push(update models.AccountUpdate) {
	s.updates <- update
}

// Fail terminates the session with an error, as a dropped connection would.
func (s *MockStreamSession) Fail(err error) {
	s.end(err)
}

func (s *MockStreamSession) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.updates)
}
