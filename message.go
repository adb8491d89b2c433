package edge

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/miekg/dns"
)

// The front-end never inspects a DNS payload beyond its length: these two
// bounds are the only "parsing" it does on the wire. minQuerySize is the
// fixed DNS header size (RFC 1035 section 4.1.1); maxQuerySize is the RFC 7766
// limit for a DNS-over-TCP message.
const (
	minQuerySize = 12
	maxQuerySize = 65535
)

// validateSize reports whether a declared DNS-over-TCP message length is
// plausible. Anything outside this range cannot be a real DNS message and
// the connection is not worth keeping open.
func validateSize(n int) bool {
	return n >= minQuerySize && n <= maxQuerySize
}

// servfail synthesises a SERVFAIL answer for a raw DNS query when the
// resolver returns an empty body. It is the one place this package parses
// query content, and only to build a spec-compliant answer with a matching
// question section and ID -- never to make a routing or filtering decision.
func servfail(query []byte) []byte {
	q := new(dns.Msg)
	if err := q.Unpack(query); err != nil {
		return rawServfail(query)
	}
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeServerFailure)
	out, err := a.Pack()
	if err != nil {
		return rawServfail(query)
	}
	return out
}

// rawServfail builds a minimal SERVFAIL by editing only the fixed 12-byte
// header of the original query: it echoes the ID, sets QR+RA, and sets
// RCODE=2. Question/answer counts are left as sent with zero answers,
// which is a valid (if sparse) DNS message. Used only if the query was
// too malformed for dns.Msg.Unpack to accept, despite passing validateSize.
func rawServfail(query []byte) []byte {
	h := make([]byte, 12)
	copy(h, query[:12])
	h[2] = 0x80 | (h[2] & 0x01) // QR=1, keep RD
	h[3] = 0x80 | byte(dns.RcodeServerFailure)
	h[6], h[7] = 0, 0 // ANCOUNT=0
	h[8], h[9] = 0, 0 // NSCOUNT=0
	h[10], h[11] = 0, 0
	return h
}

// newCorrelationID generates the value carried in the x-rxid header on
// every request the front-end builds for the resolver.
func newCorrelationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}
