package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"parcelproof/pkg/requestcontext"
)

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trusted    []string
		expectedIP string
	}{
		{
			name:       "ignores XFF from untrusted peer",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:12345",
			expectedIP: "192.168.1.1",
		},
		{
			name:       "first XFF hop from trusted proxy",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.7"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    []string{"10.0.0.0/8"},
			expectedIP: "203.0.113.1",
		},
		{
			name:       "X-Real-IP from trusted proxy",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    []string{"10.0.0.0/8"},
			expectedIP: "198.51.100.9",
		},
		{
			name:       "malformed XFF falls back to peer",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    []string{"10.0.0.0/8"},
			expectedIP: "10.0.0.1",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			expectedIP: "2001:db8::1",
		},
		{
			name:       "unparseable peer",
			remoteAddr: "pipe",
			expectedIP: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prefixes []netip.Prefix
			for _, cidr := range tt.trusted {
				prefixes = append(prefixes, netip.MustParsePrefix(cidr))
			}

			var captured context.Context
			handler := New(&Config{TrustedProxies: prefixes}).Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				captured = r.Context()
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/identity", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.expectedIP, requestcontext.ClientIP(captured))
		})
	}
}

func TestHandlerLabelsDevice(t *testing.T) {
	var captured context.Context
	handler := New(nil).Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = r.Context()
	}))

	ua := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	req := httptest.NewRequest(http.MethodPost, "/v1/handovers/pickup", nil)
	req.Header.Set("User-Agent", ua)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, ua, requestcontext.UserAgent(captured))
	assert.Contains(t, requestcontext.Device(captured), "Firefox")
}

func TestDeviceLabel(t *testing.T) {
	tests := []struct {
		name     string
		ua       string
		contains []string
	}{
		{name: "empty", ua: "", contains: []string{UnknownDevice}},
		{
			name:     "chrome on desktop",
			ua:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			contains: []string{"Chrome", " on "},
		},
		{
			name:     "safari on iphone",
			ua:       "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			contains: []string{"iPhone"},
		},
		{name: "unknown agent", ua: "courier-scanner/1.0", contains: []string{" on "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label := DeviceLabel(tt.ua)
			assert.NotEmpty(t, label)
			assert.NotContains(t, label, "  ")
			for _, want := range tt.contains {
				assert.Contains(t, label, want)
			}
		})
	}
}
