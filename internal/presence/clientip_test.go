package presence

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Real-IP": "198.51.100.1"}, "10.0.0.1:5000", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.1"}, "10.0.0.1:5000", "198.51.100.1"},
		{"first forwarded", map[string]string{"X-Forwarded-For": "192.0.2.4, 10.0.0.2"}, "10.0.0.1:5000", "192.0.2.4"},
		{"remote addr", nil, "192.0.2.9:443", "192.0.2.9"},
		{"mapped v4", nil, "[::ffff:192.0.2.10]:443", "192.0.2.10"},
		{"loopback", nil, "127.0.0.1:1234", IPLocalhost},
		{"v6 loopback", nil, "[::1]:1234", IPLocalhost},
		{"garbage header falls through", map[string]string{"X-Real-IP": "not-an-ip"}, "192.0.2.1:80", "192.0.2.1"},
		{"nothing", nil, "", IPUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = c.remote
			for k, v := range c.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, c.want, ResolveIP(r))
		})
	}
	assert.Equal(t, IPUnknown, ResolveIP(nil))
}

func TestBuildIdentifier(t *testing.T) {
	assert.Equal(t, "ann@example.com@192_0_2_1", BuildIdentifier("ann@example.com", "192.0.2.1"))
	assert.Equal(t, "ann@example.com@unknown", BuildIdentifier("ann@example.com", ""))
}

func TestDeviceFingerprint(t *testing.T) {
	assert.Equal(t, "Unknown Browser on Unknown OS (Desktop)", DeviceFingerprint(""))

	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	assert.Equal(t, "Chrome on Windows (Desktop)", DeviceFingerprint(chrome))

	iphone := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	assert.Contains(t, DeviceFingerprint(iphone), "(Mobile)")
}
