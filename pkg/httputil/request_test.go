package httputil

import (
	"bytes"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{name: "valid JSON", body: `{"name": "test"}`},
		{name: "invalid JSON", body: `{invalid}`, expectError: true},
		{name: "empty body", body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/projects/p1", nil)
	req = mux.SetURLVars(req, map[string]string{"projectId": "p1"})

	val, err := ParsePathString(req, "projectId")
	require.NoError(t, err)
	assert.Equal(t, "p1", val)

	_, err = ParsePathString(req, "id")
	assert.Error(t, err)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/tasks?limit=25&offset=x", nil)

	val, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 25, val)

	val, err = ParseQueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, val)

	_, err = ParseQueryInt(req, "offset", 0)
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		proxies    *TrustedProxies
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "forwarded header from untrusted peer is ignored",
			proxies:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.77"},
			remoteAddr: "203.0.113.9:5000",
			want:       "203.0.113.9",
		},
		{
			name:       "real ip from untrusted peer is ignored",
			proxies:    proxies,
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			remoteAddr: "203.0.113.9:5000",
			want:       "203.0.113.9",
		},
		{
			name:       "no trusted proxies configured",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.77"},
			remoteAddr: "10.0.0.2:5000",
			want:       "10.0.0.2",
		},
		{
			name:       "trusted proxy forwards client",
			proxies:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			remoteAddr: "10.0.0.2:5000",
			want:       "203.0.113.7",
		},
		{
			name:       "spoofed leftmost hop is skipped",
			proxies:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7, 10.0.0.5"},
			remoteAddr: "10.0.0.2:5000",
			want:       "203.0.113.7",
		},
		{
			name:       "all hops trusted",
			proxies:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "10.1.1.1, 10.0.0.5"},
			remoteAddr: "192.0.2.1:443",
			want:       "10.1.1.1",
		},
		{
			name:       "garbage hop stops the walk",
			proxies:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, not-an-ip"},
			remoteAddr: "10.0.0.2:5000",
			want:       "10.0.0.2",
		},
		{
			name:       "real ip from trusted proxy",
			proxies:    proxies,
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			remoteAddr: "10.0.0.2:5000",
			want:       "198.51.100.4",
		},
		{
			name:       "remote addr without port",
			proxies:    proxies,
			remoteAddr: "192.0.2.11",
			want:       "192.0.2.11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, tt.proxies.ClientIP(req))
		})
	}
}

func TestClientIP_SpoofedOriginsShareOneKey(t *testing.T) {
	seen := map[string]bool{}
	for _, xff := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3, 10.0.0.1"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("X-Forwarded-For", xff)
		seen[ClientIP(req)] = true
	}
	assert.Equal(t, map[string]bool{"203.0.113.9": true}, seen)
}

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{" 172.16.0.0/12 ", "", "::1"})
	require.NoError(t, err)
	assert.True(t, proxies.Trusts(netip.MustParseAddr("172.20.1.1")))
	assert.True(t, proxies.Trusts(netip.MustParseAddr("::1")))
	assert.False(t, proxies.Trusts(netip.MustParseAddr("172.32.0.1")))

	_, err = ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}
