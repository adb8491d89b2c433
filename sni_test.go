package edge

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSNIMatcherExactAndWildcard(t *testing.T) {
	cert := &x509.Certificate{
		DNSNames: []string{"edge.example.com", "*.max.example.com"},
	}
	m, err := NewSNIMatcher(cert)
	require.NoError(t, err)

	require.True(t, m.MatchExact("edge.example.com"))
	require.False(t, m.MatchWildcard("edge.example.com"))

	require.True(t, m.MatchWildcard("flag1.max.example.com"))
	require.False(t, m.MatchExact("flag1.max.example.com"))

	require.False(t, m.Match("unrelated.test"))
	require.True(t, m.Match("edge.example.com"))
}

func TestSNIMatcherWildcardMatchesMultipleLeadingLabels(t *testing.T) {
	cert := &x509.Certificate{
		DNSNames: []string{"a.example", "*.b.example"},
	}
	m, err := NewSNIMatcher(cert)
	require.NoError(t, err)

	require.True(t, m.Match("x.b.example"))
	require.True(t, m.Match("x.y.b.example"))

	flag, host := Metadata("x.y.b.example")
	require.Equal(t, "x", flag)
	require.Equal(t, "y.b.example", host)
	require.True(t, m.Match("x.y.b.example"))
}

func TestSNIMatcherNoSANsNeverMatches(t *testing.T) {
	m, err := NewSNIMatcher(&x509.Certificate{})
	require.NoError(t, err)
	require.False(t, m.Match("anything.example.com"))
}

func TestSNIMetadataSplitsFlagAndHost(t *testing.T) {
	flag, host := Metadata("abc123.max.example.com")
	require.Equal(t, "abc123", flag)
	require.Equal(t, "max.example.com", host)

	flag, host = Metadata("max.example.com")
	require.Equal(t, "max", flag)
	require.Equal(t, "example.com", host)

	flag, host = Metadata("example.com")
	require.Equal(t, "", flag)
	require.Equal(t, "example.com", host)

	flag, host = Metadata("localhost")
	require.Equal(t, "", flag)
	require.Equal(t, "localhost", host)
}
