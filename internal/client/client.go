// Package client is a thin HTTP client for accessd, used by the smoke tool
// and integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/host"
	"arkavo.org/accesscore/internal/payment"
	"arkavo.org/accesscore/internal/registry"
)

// APIError is a non-2xx response. It unwraps to the module sentinel named by
// Kind, so errors.Is(err, chain.ErrNotOwner) works across the wire.
type APIError struct {
	Status    int
	Kind      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("accessd: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("accessd: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return chain.ErrorForKind(e.Kind) }

// Client talks to one accessd node.
type Client struct {
	base  string
	http  *http.Client
	token string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken authenticates every request with the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the node at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// As returns a copy of c that authenticates with token.
func (c *Client) As(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var env struct {
			Error     string `json:"error"`
			Kind      string `json:"kind"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&env)
		if env.Error == "" {
			env.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Kind: env.Kind, Message: env.Error, RequestID: env.RequestID}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Receipt is the body of every state-changing call.
type Receipt[T any] struct {
	Receipt host.Receipt `json:"receipt"`
	Result  T            `json:"result"`
}

// DevToken asks a node running with dev tokens for a token.
func (c *Client) DevToken(ctx context.Context, caller chain.Address, roles ...string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/token", map[string]any{"caller": caller, "roles": roles}, &out)
	return out.Token, err
}

// Ready reports whether /readyz answers 200.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

type Info struct {
	Name         string                   `json:"name"`
	Version      string                   `json:"version"`
	Deployer     chain.Address            `json:"deployer"`
	MerkleScheme string                   `json:"merkle_scheme"`
	FailPolicy   string                   `json:"fail_policy"`
	Modules      map[string]chain.Address `json:"modules"`
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	err := c.do(ctx, http.MethodGet, "/v1/info", nil, &out)
	return out, err
}

func (c *Client) GrantEntitlement(ctx context.Context, account chain.Address, level registry.Level) (host.Receipt, error) {
	var out Receipt[json.RawMessage]
	err := c.do(ctx, http.MethodPut, "/v1/entitlements/"+account.Hex(), map[string]any{"level": level}, &out)
	return out.Receipt, err
}

func (c *Client) GetEntitlement(ctx context.Context, account chain.Address) (registry.Level, error) {
	var out struct {
		Level registry.Level `json:"level"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/entitlements/"+account.Hex(), nil, &out)
	return out.Level, err
}

// PaymentRequest describes a payment reported by a processor.
type PaymentRequest struct {
	Account       chain.Address  `json:"account"`
	Provider      string         `json:"provider"`
	TransactionID string         `json:"transaction_id"`
	Amount        uint64         `json:"amount"`
	Level         registry.Level `json:"entitlement_level"`
}

func (c *Client) RecordPayment(ctx context.Context, p PaymentRequest) (uint32, error) {
	var out Receipt[struct {
		PaymentID uint32 `json:"payment_id"`
	}]
	err := c.do(ctx, http.MethodPost, "/v1/payments", p, &out)
	return out.Result.PaymentID, err
}

func (c *Client) CompletePayment(ctx context.Context, id uint32) (host.Receipt, error) {
	var out Receipt[json.RawMessage]
	err := c.do(ctx, http.MethodPost, "/v1/payments/"+strconv.FormatUint(uint64(id), 10)+"/complete", nil, &out)
	return out.Receipt, err
}

func (c *Client) GetPayment(ctx context.Context, id uint32) (payment.Payment, error) {
	var out payment.Payment
	err := c.do(ctx, http.MethodGet, "/v1/payments/"+strconv.FormatUint(uint64(id), 10), nil, &out)
	return out, err
}

func (c *Client) PublishRoot(ctx context.Context, account chain.Address, root chain.Hash) error {
	return c.do(ctx, http.MethodPut, "/v1/attributes/"+account.Hex()+"/root", map[string]any{"root": root}, nil)
}

// SessionRequest asks for a session on Scope, proving the scope's attributes
// against Root.
type SessionRequest struct {
	EphPubKey      []byte
	Scope          string
	DurationBlocks uint64
	Proofs         []registry.AttributeProof
	Root           chain.Hash
}

type proofBody struct {
	Attribute    string       `json:"attribute"`
	ProofPath    []chain.Hash `json:"proof_path"`
	ProofIndices []int        `json:"proof_indices"`
}

func (c *Client) RequestSession(ctx context.Context, req SessionRequest) (chain.Hash, error) {
	proofs := make([]proofBody, len(req.Proofs))
	for i, p := range req.Proofs {
		idx := make([]int, len(p.ProofIndices))
		for j, b := range p.ProofIndices {
			idx[j] = int(b)
		}
		proofs[i] = proofBody{Attribute: p.AttributeHash.Hex(), ProofPath: p.ProofPath, ProofIndices: idx}
	}
	body := map[string]any{
		"eph_pub_key":     hexutil.Bytes(req.EphPubKey),
		"scope":           req.Scope,
		"duration_blocks": req.DurationBlocks,
		"proofs":          proofs,
		"root":            req.Root,
	}
	var out Receipt[struct {
		SessionID chain.Hash `json:"session_id"`
	}]
	err := c.do(ctx, http.MethodPost, "/v1/sessions/request", body, &out)
	return out.Result.SessionID, err
}

// Session is a session grant as the node reports it.
type Session struct {
	registry.SessionGrant
	SessionID chain.Hash `json:"session_id"`
	Valid     bool       `json:"valid"`
}

func (c *Client) GetSession(ctx context.Context, id chain.Hash) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/v1/sessions/"+id.Hex(), nil, &out)
	return out, err
}

// Evaluate runs the policy for account and reports the decision.
func (c *Client) Evaluate(ctx context.Context, policyID uint32, account chain.Address) (bool, error) {
	var out Receipt[struct {
		Allowed bool `json:"allowed"`
	}]
	err := c.do(ctx, http.MethodPost, "/v1/policies/"+strconv.FormatUint(uint64(policyID), 10)+"/evaluate", map[string]any{"account": account}, &out)
	return out.Result.Allowed, err
}

// Events pages the event log after the given sequence.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]host.Record, uint64, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Items     []host.Record `json:"items"`
		NextAfter uint64        `json:"next_after"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Items, out.NextAfter, nil
}

func (c *Client) SealBlock(ctx context.Context) (chain.Block, error) {
	var out chain.Block
	err := c.do(ctx, http.MethodPost, "/v1/blocks/seal", nil, &out)
	return out, err
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// WithTimeout returns a context with a default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
