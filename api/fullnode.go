package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FullnodeClient talks to an Aptos fullnode REST API.
type FullnodeClient struct {
	baseURL    string
	httpClient *http.Client
}

// Resource is one Move resource attached to an account.
type Resource struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ViewRequest invokes a read-only Move view function.
type ViewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// EntryFunctionPayload is an unsubmitted entry function call.
type EntryFunctionPayload struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// AccountInfo is the fullnode's account summary.
type AccountInfo struct {
	SequenceNumber    string `json:"sequence_number"`
	AuthenticationKey string `json:"authentication_key"`
}

// TransactionInfo is the subset of a committed transaction we care about.
type TransactionInfo struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	Version  string `json:"version"`
}

// NewFullnodeClient creates a fullnode REST client.
func NewFullnodeClient(baseURL string) *FullnodeClient {
	if baseURL == "" {
		baseURL = "https://fullnode.mainnet.aptoslabs.com/v1"
	}
	return &FullnodeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetAccount returns sequence number and authentication key for an address.
func (c *FullnodeClient) GetAccount(ctx context.Context, address string) (*AccountInfo, error) {
	var info AccountInfo
	if err := c.get(ctx, "/accounts/"+address, &info); err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return &info, nil
}

// GetAccountResources returns all Move resources stored under an address.
func (c *FullnodeClient) GetAccountResources(ctx context.Context, address string) ([]Resource, error) {
	var resources []Resource
	if err := c.get(ctx, "/accounts/"+address+"/resources?limit=9999", &resources); err != nil {
		return nil, fmt.Errorf("get resources %s: %w", address, err)
	}
	return resources, nil
}

// View executes a read-only view function and returns its raw return values.
func (c *FullnodeClient) View(ctx context.Context, req ViewRequest) ([]json.RawMessage, error) {
	if req.TypeArguments == nil {
		req.TypeArguments = []string{}
	}
	if req.Arguments == nil {
		req.Arguments = []any{}
	}
	var out []json.RawMessage
	if err := c.post(ctx, "/view", req, &out); err != nil {
		return nil, fmt.Errorf("view %s: %w", req.Function, err)
	}
	return out, nil
}

// EncodeSubmission asks the node for the BCS signing message of an
// unsigned transaction. Signing happens client-side over these bytes.
func (c *FullnodeClient) EncodeSubmission(ctx context.Context, tx map[string]any) (string, error) {
	var signingMessage string
	if err := c.post(ctx, "/transactions/encode_submission", tx, &signingMessage); err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}
	return signingMessage, nil
}

// SubmitTransaction broadcasts a signed transaction and returns its hash.
func (c *FullnodeClient) SubmitTransaction(ctx context.Context, signedTx map[string]any) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}
	if err := c.post(ctx, "/transactions", signedTx, &result); err != nil {
		return "", fmt.Errorf("submit transaction: %w", err)
	}
	return result.Hash, nil
}

// WaitForTransaction polls until the transaction is committed or the timeout
// elapses. A committed-but-failed transaction returns an error carrying the
// VM status.
func (c *FullnodeClient) WaitForTransaction(ctx context.Context, hash string, timeout time.Duration) (*TransactionInfo, error) {
	deadline := time.Now().Add(timeout)

	for {
		var info TransactionInfo
		err := c.get(ctx, "/transactions/by_hash/"+hash, &info)
		if err == nil && info.Type != "pending_transaction" {
			if !info.Success {
				return &info, fmt.Errorf("transaction %s failed: %s", hash, info.VMStatus)
			}
			return &info, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction %s not committed after %s", hash, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// EstimateGasPrice returns the node's suggested gas unit price.
func (c *FullnodeClient) EstimateGasPrice(ctx context.Context) (uint64, error) {
	var result struct {
		GasEstimate uint64 `json:"gas_estimate"`
	}
	if err := c.get(ctx, "/estimate_gas_price", &result); err != nil {
		return 0, fmt.Errorf("estimate gas price: %w", err)
	}
	return result.GasEstimate, nil
}

func (c *FullnodeClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *FullnodeClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FullnodeClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fullnode returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
