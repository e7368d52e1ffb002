package api

import (
	"net/http"
	"time"
)

// newPooledTransport 带连接池的 HTTP transport。
// 复用连接可以省掉 DNS + TCP + TLS 握手，下单路径上大约省 200ms。
// 代理走 http.ProxyFromEnvironment（HTTP_PROXY / HTTPS_PROXY）。
func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}
