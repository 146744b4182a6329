// Package relayclient calls the relay's RPC surface over HTTP. It is the only
// way the anchor and remote binaries reach the store.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/httputil"
)

const (
	rpcPath         = "/rest/v1/rpc/"
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 4 << 20
)

type Options struct {
	BaseURL string
	Key     string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is safe for concurrent use. A client built without a URL or key is
// valid but fails every call with NOT_CONFIGURED before touching the network.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		key:     strings.TrimSpace(opts.Key),
		http:    httpClient,
	}
}

// Configured returns a NOT_CONFIGURED error naming the first missing setting.
func (c *Client) Configured() error {
	if c.baseURL == "" {
		return apperrors.NotConfigured("relay url")
	}
	if c.key == "" {
		return apperrors.NotConfigured("relay key")
	}
	return nil
}

// call posts in to the operation and decodes the response into out.
// Non-2xx answers become AppErrors: 5xx and anything undecodable are
// TRANSPORT_ERROR, everything else carries the server's code.
func (c *Client) call(ctx context.Context, op string, in any, out any) error {
	if err := c.Configured(); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rpcPath+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("relay call failed")
		return apperrors.Transport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return apperrors.Transport(fmt.Errorf("read %s response: %w", op, err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return apperrors.Transport(fmt.Errorf("%s: relay returned %d: %s", op, resp.StatusCode, errorMessage(data)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp httputil.ErrorResponse
		if err := json.Unmarshal(data, &errResp); err != nil || errResp.Code == "" {
			return apperrors.Transport(fmt.Errorf("%s: relay returned %d with an undecodable body", op, resp.StatusCode))
		}
		appErr := apperrors.New(errResp.Code, errResp.Error)
		if errResp.Details != nil {
			appErr = appErr.WithDetails(errResp.Details)
		}
		return appErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Transport(fmt.Errorf("decode %s response: %w", op, err))
	}
	return nil
}

func errorMessage(data []byte) string {
	var errResp httputil.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}
