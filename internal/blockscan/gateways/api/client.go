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

	"github.com/haukened/rr-blockscan/internal/blockscan/common/log"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// DefaultBlocklistURL is the public blocklist descriptor endpoint.
const DefaultBlocklistURL = "https://api.blowfish.xyz/v0/domains/blocklist"

const (
	apiKeyHeader = "x-api-key"
	// maxErrorBody bounds how much of a non-2xx body is kept for reporting.
	maxErrorBody = 4 << 10

	errBuildRequest = "build request: %w"
	errEncodeBody   = "encode request: %w"
)

// Client fetches blocklist descriptors and filter bodies over HTTP.
type Client struct {
	blocklistURL string
	apiKey       string
	http         *http.Client
	logger       log.Logger
}

// Options configures a Client. BlocklistURL defaults to DefaultBlocklistURL
// and Timeout to 30 seconds; HTTPClient may be injected for tests.
type Options struct {
	BlocklistURL string
	APIKey       string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       log.Logger
}

// NewClient constructs a Client from opts.
func NewClient(opts Options) *Client {
	if opts.BlocklistURL == "" {
		opts.BlocklistURL = DefaultBlocklistURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		blocklistURL: strings.TrimSpace(opts.BlocklistURL),
		apiKey:       opts.APIKey,
		http:         opts.HTTPClient,
		logger:       log.OrNoop(opts.Logger),
	}
}

// FetchBlocklist POSTs req to the descriptor endpoint and decodes the response.
func (c *Client) FetchBlocklist(ctx context.Context, req domain.BlocklistRequest) (domain.DomainBlocklist, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.DomainBlocklist{}, fmt.Errorf(errEncodeBody, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.blocklistURL, bytes.NewReader(body))
	if err != nil {
		return domain.DomainBlocklist{}, fmt.Errorf(errBuildRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}

	var out domain.DomainBlocklist
	if err := c.do(httpReq, &out); err != nil {
		return domain.DomainBlocklist{}, fmt.Errorf("fetch blocklist: %w", err)
	}
	c.logger.Debug(map[string]any{
		"filter_hash":      out.BloomFilter.Hash,
		"recently_added":   len(out.RecentlyAdded),
		"recently_removed": len(out.RecentlyRemoved),
	}, "blocklist descriptor fetched")
	return out, nil
}

// FetchBloomFilter GETs the filter body at url.
func (c *Client) FetchBloomFilter(ctx context.Context, url string) (domain.BloomFilter, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.BloomFilter{}, fmt.Errorf(errBuildRequest, err)
	}

	var out domain.BloomFilter
	if err := c.do(httpReq, &out); err != nil {
		return domain.BloomFilter{}, fmt.Errorf("fetch bloom filter: %w", err)
	}
	c.logger.Debug(map[string]any{
		"hash": out.Hash,
		"bits": out.Bits,
		"k":    out.K,
	}, "bloom filter fetched")
	return out, nil
}

// do executes req and decodes a 2xx JSON body into out, mapping failures onto
// the domain error taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.RemoteError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return nil
}
