// Package safe is the HTTP client for the remote verification and
// broadcast service.
package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	veil "github.com/veilnet/veilwallet/pkg"
)

// interface guard ensures Client implements veil.SafeService
var _ veil.SafeService = &Client{}

// NewClient returns a veil.SafeService backed by the HTTP API at the
// configured base URL.
func NewClient(config veil.Config) *Client {
	return &Client{
		base:   strings.TrimRight(config.Veilwallet.SafeURL, "/"),
		client: http.DefaultClient,
	}
}

type Client struct {
	base   string
	client *http.Client
}

// envelope is the service's response wrapper: exactly one of Data or
// Error is set.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Status      int    `json:"status"`
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// request performs one round trip. 5xx responses and transport
// failures map to RemoteServer so the retry policy can act on them;
// 404 and 401 map to their engine codes; other API errors surface as
// NotAvailable with the service's description.
func (c *Client) request(ctx context.Context, method, path string, body, result any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("safe-api marshal request: %v", err)
		}
		payload = bytes.NewBuffer(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("safe-api request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return veil.NewErr(veil.RemoteServer, "safe-api transport: %v", err)
	}
	// read all of res.Body and close it so the connection is re-used.
	defer res.Body.Close()
	resBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return veil.NewErr(veil.RemoteServer, "safe-api read response: %v", err)
	}
	if res.StatusCode >= 500 {
		return veil.NewErr(veil.RemoteServer, "safe-api status: %s", res.Status)
	}
	var env envelope
	if err := json.Unmarshal(resBytes, &env); err != nil {
		return fmt.Errorf("safe-api unmarshal response: %v", err)
	}
	if env.Error != nil {
		switch {
		case env.Error.Status == http.StatusNotFound || env.Error.Code == 404:
			return veil.NewErr(veil.NotFound, "safe-api: %s %s not found", method, path)
		case env.Error.Status == http.StatusUnauthorized:
			return veil.NewErr(veil.LoggedOut, "safe-api: unauthorized")
		case env.Error.Status >= 500:
			return veil.NewErr(veil.RemoteServer, "safe-api error %d: %s", env.Error.Code, env.Error.Description)
		default:
			return veil.NewErr(veil.NotAvailable, "safe-api error %d: %s", env.Error.Code, env.Error.Description)
		}
	}
	if result != nil {
		if env.Data == nil {
			return veil.NewErr(veil.MissingResponse, "safe-api: empty data for %s %s", method, path)
		}
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("safe-api unmarshal data: %v", err)
		}
	}
	return nil
}

func (c *Client) GhostKeys(ctx context.Context, requests []veil.GhostKeyRequest) ([]veil.GhostKey, error) {
	var keys []veil.GhostKey
	err := c.request(ctx, "POST", "/safe/keys", requests, &keys)
	return keys, err
}

func (c *Client) RequestTransaction(ctx context.Context, requests []veil.TransactionRequest) ([]veil.TransactionResponse, error) {
	var responses []veil.TransactionResponse
	err := c.request(ctx, "POST", "/safe/transaction/requests", requests, &responses)
	return responses, err
}

func (c *Client) PostTransaction(ctx context.Context, requests []veil.TransactionRequest) ([]veil.TransactionResponse, error) {
	var responses []veil.TransactionResponse
	err := c.request(ctx, "POST", "/safe/transactions", requests, &responses)
	return responses, err
}

func (c *Client) Transaction(ctx context.Context, id string) (veil.TransactionResponse, error) {
	var response veil.TransactionResponse
	err := c.request(ctx, "GET", "/safe/transactions/"+url.PathEscape(id), nil, &response)
	return response, err
}

// Transactions fetches the settled subset of the given IDs. Unknown
// IDs are simply absent from the result, not errors.
func (c *Client) Transactions(ctx context.Context, ids []string) ([]veil.TransactionResponse, error) {
	var responses []veil.TransactionResponse
	query := "?ids=" + url.QueryEscape(strings.Join(ids, ","))
	err := c.request(ctx, "GET", "/safe/transactions"+query, nil, &responses)
	return responses, err
}

func (c *Client) Outputs(ctx context.Context, members string, threshold int, offset int64, limit int) ([]veil.Output, error) {
	var outputs []veil.Output
	query := url.Values{}
	query.Set("members", members)
	query.Set("threshold", strconv.Itoa(threshold))
	query.Set("offset", strconv.FormatInt(offset, 10))
	query.Set("limit", strconv.Itoa(limit))
	err := c.request(ctx, "GET", "/safe/outputs?"+query.Encode(), nil, &outputs)
	return outputs, err
}

func (c *Client) SignMultisig(ctx context.Context, id string, request veil.TransactionRequest) error {
	return c.request(ctx, "POST", "/safe/multisigs/"+url.PathEscape(id)+"/sign", request, nil)
}

func (c *Client) UnlockMultisig(ctx context.Context, id string) error {
	return c.request(ctx, "POST", "/safe/multisigs/"+url.PathEscape(id)+"/unlock", nil, nil)
}
