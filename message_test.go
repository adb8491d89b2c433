package edge

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestServfailEchoesQuestionAndID(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = 1234
	raw, err := q.Pack()
	require.NoError(t, err)

	out := servfail(raw)
	a := new(dns.Msg)
	require.NoError(t, a.Unpack(out))
	require.Equal(t, dns.RcodeServerFailure, a.Rcode)
	require.Equal(t, uint16(1234), a.Id)
	require.True(t, a.Response)
}

func TestRawServfailOnUnparsableQuery(t *testing.T) {
	raw := make([]byte, 12)
	raw[0], raw[1] = 0xAB, 0xCD // ID
	raw[2] = 0x01               // RD set, QR/opcode clear
	out := rawServfail(raw)
	require.Len(t, out, 12)
	require.Equal(t, byte(0xAB), out[0])
	require.Equal(t, byte(0xCD), out[1])
	require.Equal(t, byte(0x81), out[2]) // QR=1, RD preserved
	require.Equal(t, byte(0x80|dns.RcodeServerFailure), out[3])
}

func TestNewCorrelationIDIsHex16(t *testing.T) {
	id := newCorrelationID()
	require.Len(t, id, 16)
}
