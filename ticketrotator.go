package edge

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ticketKeySize is the 48-byte key size named in SPEC_FULL.md section 4.5.
// Go's stdlib SetSessionTicketKeys wants [32]byte, so truncateKey takes the
// first 32 bytes of the derived key; the remaining 16 are HKDF's normal
// extra output and carry no independent meaning.
const ticketKeySize = 48

// rotationPeriod is how often ticket keys are recomputed (SPEC_FULL.md 4.5).
const rotationPeriod = 7 * 24 * time.Hour

// TicketRotator periodically derives a new TLS session-ticket key for a set
// of listeners from a seed and a time-varying context, the way an operator
// would rotate ticket keys without redeploying certificates. Grounded in
// the HKDF-based subkey derivation outline-sdk's shadowsocks cipher uses
// (transport/shadowsocks/cipher.go) -- same primitive, applied to ticket
// keys instead of AEAD subkeys.
type TicketRotator struct {
	secretB64 string
	imageRef  string
	listeners []*tls.Config

	stop chan struct{}
	done chan struct{}
}

// NewTicketRotator returns a rotator that will, once Start is called,
// derive and install a new ticket key on every listener's tls.Config every
// rotationPeriod.
func NewTicketRotator(secretB64, imageRef string, listeners ...*tls.Config) *TicketRotator {
	return &TicketRotator{
		secretB64: secretB64,
		imageRef:  imageRef,
		listeners: listeners,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the weekly rotation loop until Stop is called. It rotates
// once immediately so listeners have a key from the start, then on each
// tick thereafter.
func (r *TicketRotator) Start() {
	defer close(r.done)
	r.rotateAll()
	ticker := time.NewTicker(rotationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.rotateAll()
		case <-r.stop:
			return
		}
	}
}

// Stop ends the rotation loop and waits for it to exit.
func (r *TicketRotator) Stop() {
	close(r.stop)
	<-r.done
}

func (r *TicketRotator) rotateAll() {
	for _, cfg := range r.listeners {
		key, err := r.deriveKey(cfg)
		if err != nil {
			Log.WithError(err).Error("failed to derive ticket key, leaving previous key in place")
			continue
		}
		cfg.SetSessionTicketKeys([][32]byte{truncateKey(key)})
	}
}

// deriveKey computes the 48-byte key described in SPEC_FULL.md section 4.5:
// HKDF(seed, context) where seed is the base64 secret if configured, else
// the listener's own TLS private key bytes, and context is
// "<UTC year> <UTC month><imageRef>", or empty if no imageRef is set.
func (r *TicketRotator) deriveKey(cfg *tls.Config) ([]byte, error) {
	seed, err := r.seedFor(cfg)
	if err != nil {
		return nil, err
	}
	context := r.context()
	kdf := hkdf.New(sha256.New, seed, nil, []byte(context))
	key := make([]byte, ticketKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// seedFor returns the configured secret if set, else falls back to the
// listener's own TLS private key, marshalled as PKCS #8 DER -- a stable,
// per-listener value that, unlike the certificate, is not public.
func (r *TicketRotator) seedFor(cfg *tls.Config) ([]byte, error) {
	if r.secretB64 != "" {
		return base64.StdEncoding.DecodeString(r.secretB64)
	}
	if len(cfg.Certificates) == 0 {
		return nil, fmt.Errorf("no secret configured and listener has no certificate to fall back on")
	}
	der, err := x509.MarshalPKCS8PrivateKey(cfg.Certificates[0].PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal listener private key: %w", err)
	}
	return der, nil
}

func (r *TicketRotator) context() string {
	if r.imageRef == "" {
		return ""
	}
	now := time.Now().UTC()
	return fmt.Sprintf("%d %d%s", now.Year(), now.Month(), r.imageRef)
}

func truncateKey(key []byte) [32]byte {
	var out [32]byte
	copy(out[:], key)
	return out
}
