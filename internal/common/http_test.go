package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIPAndKey(t *testing.T) {
	cases := []struct {
		remote string
		ip     string
		key    string
	}{
		{"203.0.113.7:5123", "203.0.113.7", "203.0.113.7"},
		{"[2001:db8:1:2:aaaa::1]:443", "2001:db8:1:2:aaaa::1", "2001:db8:1:2::/64"},
		{"[::ffff:198.51.100.4]:80", "198.51.100.4", "198.51.100.4"},
		{"10.0.0.9", "10.0.0.9", "10.0.0.9"},
		{"unix-socket", "unix-socket", "unix-socket"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tc.remote
		require.Equal(t, tc.ip, ClientIP(req), tc.remote)
		require.Equal(t, tc.key, ClientKey(req), tc.remote)
	}
}

func TestClientIPIgnoresForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	require.Equal(t, "192.0.2.1", ClientIP(req))
}
