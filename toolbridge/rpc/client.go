// Copyright 2025 Centerline
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpc implements the remote tool protocol: JSON-RPC 2.0 over
// HTTP for tool discovery (tools/list) and invocation (tools/call), plus
// a plain GET /health reachability probe.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"centerline/core/shared/types"
)

const (
	// HandshakeTimeout bounds the initial health probe.
	HandshakeTimeout = 5 * time.Second

	// DiscoveryTimeout bounds a tools/list fetch.
	DiscoveryTimeout = 10 * time.Second

	// InvokeTimeout bounds a tools/call request.
	InvokeTimeout = 30 * time.Second

	// maxResponseSize caps response bodies read from tool servers (10MB).
	maxResponseSize = 10 * 1024 * 1024
)

// ProtocolError indicates a malformed response from a tool server. The
// affected call is surfaced as error data; it never aborts a turn.
type ProtocolError struct {
	Endpoint string
	Method   string
	Message  string
	Cause    error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error from %s (%s): %s: %v", e.Endpoint, e.Method, e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error from %s (%s): %s", e.Endpoint, e.Method, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ManifestTool is one entry of a remote tools/list manifest.
type ManifestTool struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	InputSchema types.ParameterSchema `json:"inputSchema"`
}

// Client speaks the remote tool protocol against one endpoint. It is
// stateless apart from the request id counter and safe for concurrent
// use.
type Client struct {
	endpoint string
	client   HTTPClient
	nextID   atomic.Int64
}

// NewClient creates a protocol client for the given base endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewClientWithHTTP creates a client with a custom HTTP client (tests).
func NewClientWithHTTP(endpoint string, hc HTTPClient) *Client {
	return &Client{endpoint: endpoint, client: hc}
}

// Endpoint returns the base URL this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object. Only the message is
// interpreted; codes vary too much between tool server implementations
// to branch on.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// contentBlock is one typed block of a tools/call result. Only text
// blocks are interpreted.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// callResult is the result shape of tools/call.
type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// listResult is the result shape of tools/list.
type listResult struct {
	Tools []ManifestTool `json:"tools"`
}

// Health probes GET /health on the endpoint. Any 2xx response counts as
// reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// ListTools fetches the endpoint's tool manifest via tools/list.
func (c *Client) ListTools(ctx context.Context) ([]ManifestTool, error) {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result listResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Endpoint: c.endpoint, Method: "tools/list", Message: "malformed manifest", Cause: err}
	}
	return result.Tools, nil
}

// CallTool invokes a remote tool via tools/call and decodes the typed
// content blocks of the result. Text blocks are concatenated and decoded
// as JSON on a best-effort basis; non-JSON text comes back under a
// raw_content key so nothing is silently dropped. An explicit error
// object or isError result is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, InvokeTimeout)
	defer cancel()

	params := map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}

	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var result callResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Endpoint: c.endpoint, Method: "tools/call", Message: "malformed call result", Cause: err}
	}

	text := ""
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if result.IsError {
		return nil, fmt.Errorf("tool %q reported an error: %s", name, text)
	}

	if text == "" {
		return map[string]interface{}{}, nil
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		// Plain-text tool output; hand it through untouched.
		return map[string]interface{}{"raw_content": text}, nil
	}
	return decoded, nil
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer closeBody(resp.Body)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{
			Endpoint: c.endpoint,
			Method:   method,
			Message:  fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &ProtocolError{Endpoint: c.endpoint, Method: method, Message: "malformed response envelope", Cause: err}
	}

	if envelope.Error != nil {
		return nil, fmt.Errorf("%s returned error: %s", method, envelope.Error.Message)
	}
	if envelope.Result == nil {
		return nil, &ProtocolError{Endpoint: c.endpoint, Method: method, Message: "response has neither result nor error"}
	}
	return envelope.Result, nil
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		log.Printf("Error closing response body: %v", err)
	}
}
