package edge

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDoHListener(t *testing.T, resolver Resolver) *DoHListener {
	t.Helper()
	return NewDoHListener("doh-test", "127.0.0.1:0", nil, resolver, NewTracker(), NewStats("doh-test"), nil, time.Second, time.Second, 16)
}

func validQuery(n int) []byte {
	q := make([]byte, n)
	return q
}

func TestDoHPostOversizeReturns413(t *testing.T) {
	l := newTestDoHListener(t, ResolverFunc(func(ctx context.Context, req *Request) (*Response, error) {
		t.Fatal("resolver should not be invoked for an oversize body")
		return nil, nil
	}))

	body := validQuery(maxQuerySize + 1)
	req := httptest.NewRequest(http.MethodPost, "https://edge.example.com/dns-query", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", dohMediaType)
	w := httptest.NewRecorder()

	l.postHandler(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDoHGetOversizeReturns413(t *testing.T) {
	l := newTestDoHListener(t, ResolverFunc(func(ctx context.Context, req *Request) (*Response, error) {
		t.Fatal("resolver should not be invoked for an oversize body")
		return nil, nil
	}))

	b64 := base64.RawURLEncoding.EncodeToString(validQuery(maxQuerySize + 1))
	req := httptest.NewRequest(http.MethodGet, "https://edge.example.com/dns-query?dns="+b64, nil)
	w := httptest.NewRecorder()

	l.getHandler(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDoHEmptyAnswerEndsWithNoBody(t *testing.T) {
	l := newTestDoHListener(t, ResolverFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "https://edge.example.com/dns-query", strings.NewReader(string(validQuery(minQuerySize))))
	req.Header.Set("Content-Type", dohMediaType)
	w := httptest.NewRecorder()

	l.postHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.Bytes())
}

func TestDoHResolverErrorReturns400NotServfail(t *testing.T) {
	l := newTestDoHListener(t, ResolverFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, context.DeadlineExceeded
	}))

	req := httptest.NewRequest(http.MethodPost, "https://edge.example.com/dns-query", strings.NewReader(string(validQuery(minQuerySize))))
	req.Header.Set("Content-Type", dohMediaType)
	w := httptest.NewRecorder()

	l.postHandler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	// A synthesised SERVFAIL would be a well-formed 12+ byte DNS message;
	// the 400 body here is httplib's plain-text error instead.
	require.NotEqual(t, minQuerySize, len(w.Body.Bytes()))
}

func TestDoHForwardsResolverAnswerAndStatus(t *testing.T) {
	answer := []byte("fake-dns-answer-bytes")
	l := newTestDoHListener(t, ResolverFunc(func(ctx context.Context, req *Request) (*Response, error) {
		require.Equal(t, http.MethodPost, req.Method)
		return &Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(string(answer)))}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "https://edge.example.com/dns-query", strings.NewReader(string(validQuery(minQuerySize))))
	req.Header.Set("Content-Type", dohMediaType)
	w := httptest.NewRecorder()

	l.postHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, answer, w.Body.Bytes())
	require.Equal(t, dohMediaType, w.Header().Get("Content-Type"))
}
