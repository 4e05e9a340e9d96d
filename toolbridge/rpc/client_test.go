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

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newToolServer builds an httptest server speaking the remote tool
// protocol, dispatching on the JSON-RPC method.
func newToolServer(t *testing.T, handle func(method string, params map[string]interface{}) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/rpc", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req struct {
			JSONRPC string                 `json:"jsonrpc"`
			ID      int64                  `json:"id"`
			Method  string                 `json:"method"`
			Params  map[string]interface{} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "2.0", req.JSONRPC)

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHealth(t *testing.T) {
	srv := newToolServer(t, nil)
	defer srv.Close()

	client := NewClient(srv.URL)
	assert.NoError(t, client.Health(context.Background()))
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestListTools(t *testing.T) {
	srv := newToolServer(t, func(method string, params map[string]interface{}) (interface{}, *rpcError) {
		require.Equal(t, "tools/list", method)
		return map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        "get_rendimientos",
					"description": "Fetch yield figures for a member.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id":    map[string]interface{}{"type": "string"},
							"month": map[string]interface{}{"type": "string"},
						},
						"required": []string{"id"},
					},
				},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_rendimientos", tools[0].Name)
	assert.Equal(t, "object", tools[0].InputSchema.Type)
	assert.Equal(t, []string{"id"}, tools[0].InputSchema.Required)
	assert.Contains(t, tools[0].InputSchema.Properties, "month")
}

func TestCallToolJSONText(t *testing.T) {
	srv := newToolServer(t, func(method string, params map[string]interface{}) (interface{}, *rpcError) {
		require.Equal(t, "tools/call", method)
		assert.Equal(t, "get_rendimientos", params["name"])
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": `{"total": 1250.75, "month": "July"}`},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	payload, err := client.CallTool(context.Background(), "get_rendimientos", map[string]interface{}{"id": "123"})
	require.NoError(t, err)

	decoded, ok := payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1250.75, decoded["total"])
	assert.Equal(t, "July", decoded["month"])
}

func TestCallToolPlainText(t *testing.T) {
	srv := newToolServer(t, func(method string, params map[string]interface{}) (interface{}, *rpcError) {
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "all systems nominal"},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	payload, err := client.CallTool(context.Background(), "status", nil)
	require.NoError(t, err)

	decoded, ok := payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "all systems nominal", decoded["raw_content"])
}

func TestCallToolIgnoresNonTextBlocks(t *testing.T) {
	srv := newToolServer(t, func(method string, params map[string]interface{}) (interface{}, *rpcError) {
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "image", "text": "ignored"},
				{"type": "text", "text": `{"ok": true}`},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	payload, err := client.CallTool(context.Background(), "mixed", nil)
	require.NoError(t, err)

	decoded, ok := payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, decoded["ok"])
}

func TestCallToolIsError(t *testing.T) {
	srv := newToolServer(t, func(method string, params map[string]interface{}) (interface{}, *rpcError) {
		return map[string]interface{}{
			"isError": true,
			"content": []map[string]interface{}{
				{"type": "text", "text": "member not found"},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.CallTool(context.Background(), "get_rendimientos", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member not found")
}

func TestCallToolErrorObject(t *testing.T) {
	srv := newToolServer(t, func(method string, params map[string]interface{}) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.CallTool(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
}

func TestCallMalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.ListTools(context.Background())
	require.Error(t, err)

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "tools/list", protoErr.Method)
}

func TestCallUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.ListTools(context.Background())

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Contains(t, protoErr.Message, "502")
}

func TestRequestIDsIncrement(t *testing.T) {
	var ids []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ids = append(ids, req.ID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + "0" + `,"result":{"tools":[]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.ListTools(context.Background())
	require.NoError(t, err)
	_, err = client.ListTools(context.Background())
	require.NoError(t, err)

	require.Len(t, ids, 2)
	assert.Greater(t, ids[1], ids[0])
}
