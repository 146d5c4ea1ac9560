package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"
)

// HTTPRoundTripper 把上游请求改发到测试服务器，Host 头保持原样
type HTTPRoundTripper struct {
	base *url.URL
	next http.RoundTripper
}

// RoundTrip 实现 http.RoundTripper 接口
func (t *HTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.URL.Scheme = t.base.Scheme
	cloned.URL.Host = t.base.Host
	if cloned.Host == "" {
		cloned.Host = req.URL.Host
	}
	return t.next.RoundTrip(cloned)
}

// NewTestClient 创建测试用 HTTP 客户端，所有请求都发往 ts
// 用于在不改 BaseURL 的情况下验证各模型供应商的请求
func NewTestClient(ts *httptest.Server) *http.Client {
	u, _ := url.Parse(ts.URL)
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &HTTPRoundTripper{base: u, next: http.DefaultTransport},
	}
}
