package edge

import (
	"crypto/tls"
	"crypto/x509"
	"regexp"
	"strings"
)

// neverMatch is the regex used when a certificate has no SANs of the
// relevant kind: it matches nothing, the way routedns's matcher-regexp.go
// compiles a list of patterns and is happy to end up with an empty one.
// Go's RE2 syntax has no lookahead, so a character class that excludes
// every rune stands in for the usual `(?!)`.
const neverMatch = `[^\x00-\x{10FFFF}]`

// SNIMatcher classifies the server name a TLS client indicated against the
// DNS SANs of the server certificate (component C4). It is built lazily
// from the certificate on the first TLS connection and is immutable (and
// therefore safe for concurrent use without locking) for the rest of the
// process lifetime.
type SNIMatcher struct {
	exact    *regexp.Regexp
	wildcard *regexp.Regexp
}

// NewSNIMatcher compiles the two alternations described in SPEC_FULL.md
// section 4.3 from a certificate's DNS Subject Alternative Names.
func NewSNIMatcher(cert *x509.Certificate) (*SNIMatcher, error) {
	var exact, wildcard []string
	for _, name := range cert.DNSNames {
		if strings.HasPrefix(name, "*") {
			// Metadata peels only the leftmost label off as flag, so an
			// SNI can carry any number of labels ahead of the SAN's suffix
			// (e.g. "x.y.b.example" under "*.b.example"); match that suffix
			// with zero or more leading "label." groups rather than exactly
			// one, so classification doesn't depend on how many labels the
			// flag's own value happens to contain.
			bareSuffix := regexp.QuoteMeta(strings.TrimPrefix(name, "*."))
			wildcard = append(wildcard, `(?:[a-z0-9_-]+\.)*`+bareSuffix)
		} else {
			exact = append(exact, regexp.QuoteMeta(name))
		}
	}
	exactRe, err := compileAlternation(exact)
	if err != nil {
		return nil, err
	}
	wildcardRe, err := compileAlternation(wildcard)
	if err != nil {
		return nil, err
	}
	return &SNIMatcher{exact: exactRe, wildcard: wildcardRe}, nil
}

func compileAlternation(items []string) (*regexp.Regexp, error) {
	pattern := neverMatch
	if len(items) > 0 {
		pattern = "^(?i:" + strings.Join(items, "|") + ")$"
	}
	return regexp.Compile(pattern)
}

// MatchExact reports whether sni matches one of the certificate's plain
// DNS SANs.
func (m *SNIMatcher) MatchExact(sni string) bool {
	return m.exact.MatchString(sni)
}

// MatchWildcard reports whether sni matches one of the certificate's
// wildcard SANs.
func (m *SNIMatcher) MatchWildcard(sni string) bool {
	return m.wildcard.MatchString(sni)
}

// Match reports whether sni matches either alternation.
func (m *SNIMatcher) Match(sni string) bool {
	return m.MatchExact(sni) || m.MatchWildcard(sni)
}

// Metadata splits sni into its flag and host parts as described in
// SPEC_FULL.md section 4.3: with more than two labels, the first label is
// the flag and the rest join back into host; otherwise flag is empty and
// host is sni unchanged.
func Metadata(sni string) (flag, host string) {
	labels := strings.Split(sni, ".")
	if len(labels) > 2 {
		return labels[0], strings.Join(labels[1:], ".")
	}
	return "", sni
}

// sniMatcherFromConfig builds an SNIMatcher from the leaf certificate of a
// tls.Config. It builds a new matcher on every call; the caller
// (DoTListener.classify) runs it once under a sync.Once.
func sniMatcherFromConfig(cfg *tls.Config) (*SNIMatcher, error) {
	if len(cfg.Certificates) == 0 {
		return NewSNIMatcher(&x509.Certificate{})
	}
	leaf := cfg.Certificates[0].Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
		if err != nil {
			return nil, err
		}
		leaf = parsed
	}
	return NewSNIMatcher(leaf)
}
