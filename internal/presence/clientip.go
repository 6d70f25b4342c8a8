package presence

import (
	"net"
	"net/http"
	"strings"

	ua "github.com/mileusna/useragent"
)

const (
	// IPLocalhost replaces loopback addresses.
	IPLocalhost = "localhost"
	// IPUnknown is returned when no address can be resolved.
	IPUnknown = "unknown"
)

// ResolveIP returns the client IP for a request, honouring CDN and reverse-proxy headers in priority order:
// CF-Connecting-IP, X-Real-IP, first X-Forwarded-For entry, then the transport address.
func ResolveIP(r *http.Request) string {
	if r == nil {
		return IPUnknown
	}
	candidates := []string{
		r.Header.Get("CF-Connecting-IP"),
		r.Header.Get("X-Real-IP"),
		firstForwarded(r.Header.Get("X-Forwarded-For")),
		hostOnly(r.RemoteAddr),
	}
	for _, c := range candidates {
		if ip := normalizeIP(c); ip != "" {
			return ip
		}
	}
	return IPUnknown
}

// BuildIdentifier composes a log-safe "email@ip" correlation string. Not unique; never use it as a key.
func BuildIdentifier(email, ip string) string {
	if ip == "" {
		ip = IPUnknown
	}
	return email + "@" + strings.NewReplacer(".", "_", ":", "_").Replace(ip)
}

// DeviceFingerprint summarises a User-Agent as "Browser on OS (Device)".
func DeviceFingerprint(userAgent string) string {
	if userAgent == "" {
		return "Unknown Browser on Unknown OS (Desktop)"
	}
	parsed := ua.Parse(userAgent)
	browser := parsed.Name
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := parsed.OS
	if os == "" {
		os = "Unknown OS"
	}
	device := "Desktop"
	switch {
	case parsed.Bot:
		device = "Bot"
	case parsed.Tablet:
		device = "Tablet"
	case parsed.Mobile:
		device = "Mobile"
	}
	return strings.TrimSpace(browser) + " on " + strings.TrimSpace(os) + " (" + device + ")"
}

func firstForwarded(v string) string {
	if v == "" {
		return ""
	}
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func hostOnly(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	if s == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(s), "::ffff:") {
		if v4 := net.ParseIP(s[7:]); v4 != nil && v4.To4() != nil {
			s = s[7:]
		}
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	if ip.IsLoopback() {
		return IPLocalhost
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
