package edge

import "encoding/binary"

// framingBuffer is the per-connection DNS-over-TCP reassembly state
// described in SPEC_FULL.md section 3 (component C3). It is owned
// exclusively by the goroutine reading a single connection, so it needs no
// locking of its own.
type framingBuffer struct {
	qlenBuf    [2]byte
	qlenOffset int

	qBody    []byte
	qOffset  int
}

// qlenReady reports whether the 2-byte length prefix is fully read.
func (f *framingBuffer) qlenReady() bool {
	return f.qlenOffset == 2
}

// qlen returns the parsed big-endian length prefix. Only valid once
// qlenReady is true.
func (f *framingBuffer) qlen() int {
	return int(binary.BigEndian.Uint16(f.qlenBuf[:]))
}

// fillQlen copies as much of in as needed to complete the length prefix and
// returns the number of bytes it consumed.
func (f *framingBuffer) fillQlen(in []byte) int {
	n := copy(f.qlenBuf[f.qlenOffset:2], in)
	f.qlenOffset += n
	return n
}

// allocOnce allocates qBody to exactly sz bytes if it hasn't been
// allocated yet for the current query. Safe to call repeatedly once
// allocated: it is then a no-op.
func (f *framingBuffer) allocOnce(sz int) {
	if f.qBody == nil {
		f.qBody = make([]byte, sz)
	}
}

// bodyReady reports whether qBody is fully populated.
func (f *framingBuffer) bodyReady() bool {
	return f.qBody != nil && f.qOffset == len(f.qBody)
}

// fillBody copies as much of in as fits into the remaining body space and
// returns the number of bytes it consumed.
func (f *framingBuffer) fillBody(in []byte) int {
	n := copy(f.qBody[f.qOffset:], in)
	f.qOffset += n
	return n
}

// reset returns the completed query body, clears qBody and both offsets,
// and leaves qlenBuf ready to receive the next prefix. Per the invariant in
// SPEC_FULL.md section 4.2, after reset qlenOffset == 0 and qBody == nil.
func (f *framingBuffer) reset() []byte {
	body := f.qBody
	f.qBody = nil
	f.qOffset = 0
	f.qlenOffset = 0
	return body
}
