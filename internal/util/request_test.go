package util

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "first forwarded hop wins",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "203.0.113.50",
		},
		{
			name:       "forwarded header beats real ip",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50", "X-Real-IP": "198.51.100.178"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "203.0.113.50",
		},
		{
			name:       "empty forwarded hop falls through to real ip",
			headers:    map[string]string{"X-Forwarded-For": " , 70.41.3.18", "X-Real-IP": "198.51.100.178"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "198.51.100.178",
		},
		{
			name:       "non-ip forwarded value ignored",
			headers:    map[string]string{"X-Forwarded-For": "evil-host-1234"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
		{
			name:       "non-ip real ip ignored",
			headers:    map[string]string{"X-Real-IP": "<script>"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
		{
			name:       "remote address with port",
			remoteAddr: "192.168.1.1:5678",
			expected:   "192.168.1.1",
		},
		{
			name:       "ipv6 remote address",
			remoteAddr: "[2001:db8::1]:443",
			expected:   "2001:db8::1",
		},
		{
			name:       "remote address without port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tt.expected, GetClientIP(r))
		})
	}
}
