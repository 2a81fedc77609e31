// Package client provides the Go SDK for the scholarchain ledger API.
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
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when the requested block does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an append lost a write race; retry it.
	ErrConflict = errors.New("ledger write conflict")
	// ErrForbidden is returned when the token's role may not perform the call.
	ErrForbidden = errors.New("forbidden")
)

// APIError is a non-2xx response from chaind.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger API error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

// Actor identifies the user that triggered a recorded event.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Entity is a model/ID pair, e.g. PresentationRequest 42.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Block is a ledger block as returned by the API.
type Block struct {
	Number       uint64         `json:"block_number"`
	PreviousHash string         `json:"previous_hash"`
	Hash         string         `json:"current_hash"`
	RecordType   string         `json:"record_type"`
	RecordData   map[string]any `json:"record_data"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        *Actor         `json:"actor,omitempty"`
	Subject      *Entity        `json:"subject,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserName     string         `json:"user_name"`
}

// Finding is one integrity problem reported by Verify.
type Finding struct {
	BlockNumber uint64 `json:"block_number"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

// VerifyResult is the response of GET /api/v1/ledger/verify.
type VerifyResult struct {
	IsValid     bool      `json:"is_valid"`
	TotalBlocks int       `json:"total_blocks"`
	Errors      []string  `json:"errors"`
	Findings    []Finding `json:"findings"`
	Message     string    `json:"message"`
	CheckedAt   time.Time `json:"checked_at"`
}

// TypeCount is the number of blocks of one record type.
type TypeCount struct {
	RecordType string `json:"record_type"`
	Label      string `json:"label"`
	Count      int    `json:"count"`
}

// Overview is the response of GET /api/v1/ledger.
type Overview struct {
	TotalBlocks  int         `json:"total_blocks"`
	RecordCounts []TypeCount `json:"record_type_counts"`
	LatestBlocks []Block     `json:"latest_blocks"`
	Tip          string      `json:"tip"`
}

// TrailEntry is one row of an entity's audit trail.
type TrailEntry struct {
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
	RecordType  string    `json:"record_type"`
	Operation   string    `json:"operation"`
	User        string    `json:"user"`
	UserID      string    `json:"user_id,omitempty"`
	Data        any       `json:"data,omitempty"`
	Hash        string    `json:"hash"`
}

// AuditTrail is the response of GET /api/v1/ledger/audit-trail/:type/:id.
type AuditTrail struct {
	Entity       Entity       `json:"entity"`
	Entries      []TrailEntry `json:"audit_trail"`
	TotalRecords int          `json:"total_records"`
}

// AppendRequest is the payload for AppendRecord.
type AppendRequest struct {
	RecordType string         `json:"record_type"`
	Operation  string         `json:"operation"`
	Model      string         `json:"model"`
	ModelID    string         `json:"model_id"`
	Data       map[string]any `json:"data,omitempty"`
	Actor      *Actor         `json:"actor,omitempty"`
	Subject    *Entity        `json:"subject,omitempty"`
}

// Client is the ledger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	cache       *blockCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a token (see `chainctl token`) to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCacheTTL enables in-memory caching of single-block reads.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
		c.cache = newBlockCache(ttl)
		return nil
	}
}

// New creates a Client for the chaind instance at base, e.g.
// "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Overview returns per-type counts and the latest blocks. latest <= 0 uses
// the server default.
func (c *Client) Overview(ctx context.Context, latest int) (*Overview, error) {
	path := "/api/v1/ledger"
	if latest > 0 {
		path += "?latest=" + strconv.Itoa(latest)
	}
	var out Overview
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to re-verify the whole chain. A broken chain is
// reported in the result, not as an error.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.getJSON(ctx, "/api/v1/ledger/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block returns block number n.
func (c *Client) Block(ctx context.Context, n uint64) (*Block, error) {
	if c.cache != nil {
		if b, ok := c.cache.get(n); ok {
			return b, nil
		}
	}
	var out Block
	if err := c.getJSON(ctx, "/api/v1/ledger/blocks/"+strconv.FormatUint(n, 10), &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(n, &out)
	}
	return &out, nil
}

// AuditTrail returns the history of one entity, optionally restricted to the
// given record types.
func (c *Client) AuditTrail(ctx context.Context, model, id string, recordTypes ...string) (*AuditTrail, error) {
	path := "/api/v1/ledger/audit-trail/" + url.PathEscape(model) + "/" + url.PathEscape(id)
	if len(recordTypes) > 0 {
		q := url.Values{}
		for _, t := range recordTypes {
			q.Add("record_type", t)
		}
		path += "?" + q.Encode()
	}
	var out AuditTrail
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendRecord appends one domain event and returns the sealed block.
func (c *Client) AppendRecord(ctx context.Context, r AppendRequest) (*Block, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode append request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/ledger/records", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out Block
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return nil, apiErr
	}
	return body, nil
}

// --- simple in-memory block cache ---

type cacheEntry struct {
	block     *Block
	expiresAt time.Time
}

type blockCache struct {
	mu      sync.RWMutex
	entries map[uint64]*cacheEntry
	ttl     time.Duration
}

func newBlockCache(ttl time.Duration) *blockCache {
	return &blockCache{entries: make(map[uint64]*cacheEntry), ttl: ttl}
}

func (bc *blockCache) get(n uint64) (*Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	e, ok := bc.entries[n]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.block, true
}

func (bc *blockCache) set(n uint64, b *Block) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.entries[n] = &cacheEntry{block: b, expiresAt: time.Now().Add(bc.ttl)}
}
