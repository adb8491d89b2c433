package edge

import (
	"os"
	"strconv"
	"time"
)

// Config is the single, immutable struct every component that needs
// configuration receives explicitly, decoded once at process start the
// way cmd/routedns/config.go decodes a small typed struct up front rather
// than having each component read the environment itself.
type Config struct {
	Listeners   ListenerConfig
	Admission   AdmissionConfig
	Diagnostics DiagnosticsConfig

	TLSKey, TLSCrt string
	SecretB64      string
	ImageRef       string
	Upstream       string // the DoH server every query is forwarded to
	IsCleartext    bool // TLS-offload mode: listeners accept plaintext
	IsDoTProxyProto bool
}

// ListenerConfig holds the ports and socket-level tunables for every
// listener flavour named in SPEC_FULL.md section 4.4.
type ListenerConfig struct {
	DoT            string
	DoTProxyProto  string
	DoH            string
	DoTCleartext   string
	DoHCleartext   string
	HTTPCheck      string
	TCPBacklog     int
	IOTimeout      time.Duration
	ShutdownTimeout time.Duration
}

// AdmissionConfig holds the admission controller's tunables.
type AdmissionConfig struct {
	MinConns int
	MaxConns int
}

// DiagnosticsConfig holds the heap-snapshot toggles.
type DiagnosticsConfig struct {
	MeasureHeap bool
	OnLocal     bool
	SnapshotDir string
}

// LoadConfig reads every field of Config from the environment, applying
// the defaults noted alongside each field below. It never returns an
// error: missing or malformed values fall back to their default rather
// than aborting startup, the way NewRateLimiter/NewAdminListener default
// their options structs in the teacher package.
func LoadConfig() Config {
	return Config{
		Listeners: ListenerConfig{
			DoT:             envOr("DOT_ADDR", ":853"),
			DoTProxyProto:   envOr("DOT_PROXYPROTO_ADDR", ""),
			DoH:             envOr("DOH_ADDR", ":443"),
			DoTCleartext:    envOr("DOT_CLEARTEXT_ADDR", ""),
			DoHCleartext:    envOr("DOH_CLEARTEXT_ADDR", ""),
			HTTPCheck:       envOr("HTTP_CHECK_ADDR", ":8080"),
			TCPBacklog:      envIntOr("TCP_BACKLOG", 256),
			IOTimeout:       envMsOr("IO_TIMEOUT_MS", 30*time.Second),
			ShutdownTimeout: envMsOr("SHUTDOWN_TIMEOUT_MS", 10*time.Second),
		},
		Admission: AdmissionConfig{
			MinConns: envIntOr("MIN_CONNS", 64),
			MaxConns: envIntOr("MAX_CONNS", 4096),
		},
		Diagnostics: DiagnosticsConfig{
			MeasureHeap: envBoolOr("MEASURE_HEAP", false),
			OnLocal:     envBoolOr("ON_LOCAL", false),
			SnapshotDir: envOr("HEAP_SNAPSHOT_DIR", "."),
		},
		TLSKey:          os.Getenv("TLS_KEY"),
		TLSCrt:          os.Getenv("TLS_CRT"),
		SecretB64:       os.Getenv("SECRET_B64"),
		ImageRef:        os.Getenv("IMAGE_REF"),
		Upstream:        envOr("UPSTREAM_ADDR", "https://1.1.1.1/dns-query"),
		IsCleartext:     envBoolOr("IS_CLEARTEXT", false),
		IsDoTProxyProto: envBoolOr("IS_DOT_PROXYPROTO", false),
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envMsOr(key string, def time.Duration) time.Duration {
	n := envIntOr(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
