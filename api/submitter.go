package api

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Account holds the vault operator's signing identity.
type Account struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// NewAccountFromEnv builds the signing account from APTOS_PRIVATE_KEY
// (32-byte hex seed, with or without 0x prefix).
func NewAccountFromEnv() (*Account, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv("APTOS_PRIVATE_KEY")), "0x")
	if raw == "" {
		return nil, fmt.Errorf("APTOS_PRIVATE_KEY not set")
	}
	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid APTOS_PRIVATE_KEY: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("APTOS_PRIVATE_KEY must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	// Single-signer authentication key: sha3-256(pubkey || 0x00).
	hasher := sha3.New256()
	hasher.Write(pub)
	hasher.Write([]byte{0x00})
	address := "0x" + hex.EncodeToString(hasher.Sum(nil))

	return &Account{
		privateKey: priv,
		publicKey:  pub,
		address:    address,
	}, nil
}

// Address returns the account's on-chain address.
func (a *Account) Address() string {
	return a.address
}

// Sign signs the raw signing message bytes.
func (a *Account) Sign(message []byte) []byte {
	return ed25519.Sign(a.privateKey, message)
}

// PublicKeyHex returns the hex-encoded public key with 0x prefix.
func (a *Account) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(a.publicKey)
}

// Submitter signs and broadcasts entry function payloads for the vault
// account and waits for finality.
type Submitter struct {
	node         *FullnodeClient
	account      *Account
	maxGasAmount uint64
	txTimeout    time.Duration
}

// NewSubmitter creates a transaction submitter for one signing account.
func NewSubmitter(node *FullnodeClient, account *Account, txTimeout time.Duration) *Submitter {
	if txTimeout <= 0 {
		txTimeout = 30 * time.Second
	}
	return &Submitter{
		node:         node,
		account:      account,
		maxGasAmount: 200000,
		txTimeout:    txTimeout,
	}
}

// Address returns the submitting account's address.
func (s *Submitter) Address() string {
	return s.account.Address()
}

// Submit builds, signs, broadcasts a transaction and waits until it is
// committed. Returns the transaction hash.
func (s *Submitter) Submit(ctx context.Context, payload EntryFunctionPayload) (string, error) {
	info, err := s.node.GetAccount(ctx, s.account.Address())
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	gasPrice, err := s.node.EstimateGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	expiration := time.Now().Add(s.txTimeout).Unix()
	tx := map[string]any{
		"sender":                    s.account.Address(),
		"sequence_number":           info.SequenceNumber,
		"max_gas_amount":            strconv.FormatUint(s.maxGasAmount, 10),
		"gas_unit_price":            strconv.FormatUint(gasPrice, 10),
		"expiration_timestamp_secs": strconv.FormatInt(expiration, 10),
		"payload":                   payload,
	}

	signingMessage, err := s.node.EncodeSubmission(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	messageBytes, err := hex.DecodeString(strings.TrimPrefix(signingMessage, "0x"))
	if err != nil {
		return "", fmt.Errorf("submit: decode signing message: %w", err)
	}

	signature := s.account.Sign(messageBytes)
	tx["signature"] = map[string]any{
		"type":       "ed25519_signature",
		"public_key": s.account.PublicKeyHex(),
		"signature":  "0x" + hex.EncodeToString(signature),
	}

	hash, err := s.node.SubmitTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	if _, err := s.node.WaitForTransaction(ctx, hash, s.txTimeout); err != nil {
		return hash, fmt.Errorf("submit: %w", err)
	}
	return hash, nil
}
