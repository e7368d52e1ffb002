package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/betbot/diparb/pkg/ratelimit"
)

func TestDoRequestCtxDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		require.Equal(t, "btc-updown-5m-", r.URL.Query().Get("slug_prefix"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	var out struct {
		Status string `json:"status"`
	}
	c := NewClient(srv.URL + "/")
	resp, err := c.DoRequestCtx(context.Background(), "GET", "/markets", &RequestOptions{
		Params: map[string]any{"slug_prefix": "btc-updown-5m-"},
	}, &out)
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
	require.Equal(t, "ok", out.Status)
}

func TestDoRequestPostSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "buy", body["side"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.DoRequest("POST", "/order", &RequestOptions{
		Data: map[string]any{"side": "buy"},
	}, nil)
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
}

func TestDoRequestRejectsUnknownMethod(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.DoRequest("PATCH", "/x", nil, nil)
	require.Error(t, err)
}

func TestRateLimiterBlocksWhenExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// 耗尽 clob:book:get 的窗口后，带该 endpoint 的请求应阻塞到 ctx 取消
	m := ratelimit.NewRateLimitManager()
	c := NewClient(srv.URL).WithRateLimiter(m)
	for m.Allow("clob:book:get") {
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.DoRequestCtx(ctx, "GET", "/book", &RequestOptions{Endpoint: "clob:book:get"}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseHTTPErrorNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid token id"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.DoRequest("GET", "/bad", nil, nil)
	require.NoError(t, err)

	_, perr := ParseHTTPError(resp, nil)
	require.Error(t, perr)
	require.Contains(t, perr.Error(), "non-2xx")
}
