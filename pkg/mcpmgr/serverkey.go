package mcpmgr

import (
	"net/url"
	"strings"
)

// DefaultPlainSuffixes lists the two-label public suffixes stripped before
// picking the brand label of a host. It is an allow-list, not a public
// suffix list; callers with other needs set KeyDeriver.Suffixes.
var DefaultPlainSuffixes = []string{
	"co.uk", "org.uk", "ac.uk", "gov.uk", "me.uk",
	"co.jp", "ne.jp", "or.jp",
	"com.au", "net.au", "org.au",
	"co.nz", "org.nz",
	"com.br", "com.cn", "com.mx", "com.tr", "com.sg",
	"co.in", "co.za", "co.kr",
}

// KeyDeriver turns server descriptors into short server keys.
type KeyDeriver struct {
	// Suffixes overrides DefaultPlainSuffixes when non-nil.
	Suffixes []string
}

// DeriveKey derives a key with the default suffix allow-list.
func DeriveKey(d ServerDescriptor) string {
	return (&KeyDeriver{}).Derive(d)
}

// Derive returns the explicit key verbatim when set. Otherwise it returns
// the registrable brand label of the URL host, lower-cased:
//
//	https://mcp.linear.app/mcp -> linear
//	https://api.github.com     -> github
//	https://google.co.uk       -> google
//
// When the URL cannot be parsed the sanitized input is returned instead.
func (k *KeyDeriver) Derive(d ServerDescriptor) string {
	if d.ExplicitKey != "" {
		return d.ExplicitKey
	}
	raw := strings.TrimSpace(d.URL)
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		if u == nil || u.Host == "" {
			return sanitizeKey(raw)
		}
		return sanitizeKey(u.Host)
	}
	return k.brandLabel(strings.ToLower(u.Hostname()))
}

func (k *KeyDeriver) brandLabel(host string) string {
	host = strings.TrimSuffix(host, ".")
	if isIPOrLocal(host) {
		return sanitizeKey(host)
	}
	host = strings.TrimPrefix(host, "www.")
	labels := strings.Split(host, ".")
	if len(labels) == 1 {
		return sanitizeKey(labels[0])
	}
	suffixes := k.Suffixes
	if suffixes == nil {
		suffixes = DefaultPlainSuffixes
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			rest := strings.Split(strings.TrimSuffix(host, "."+suffix), ".")
			return sanitizeKey(rest[len(rest)-1])
		}
	}
	return sanitizeKey(labels[len(labels)-2])
}

func isIPOrLocal(host string) bool {
	if host == "localhost" || strings.Contains(host, ":") {
		return true
	}
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// sanitizeKey keeps [a-z0-9-] and maps every other rune to '-'.
func sanitizeKey(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "server"
	}
	return out
}
