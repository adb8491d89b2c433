package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	edge "github.com/dnsfront/edge"
)

// upstreamResolver is the default Resolver: it forwards every query
// unmodified to a single upstream DoH server over HTTPS. It exists so
// edged is runnable out of the box; a deployment that needs caching,
// blocklists, or routing supplies its own edge.Resolver instead -- that
// boundary is what component C8's Resolver interface is for.
type upstreamResolver struct {
	upstream string
	client   *http.Client
}

func newUpstreamResolver(upstream string) *upstreamResolver {
	return &upstreamResolver{
		upstream: upstream,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (r *upstreamResolver) HandleRequest(ctx context.Context, req *edge.Request) (*edge.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.upstream, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/dns-message")
	if rxid := req.Header.Get("X-Rxid"); rxid != "" {
		httpReq.Header.Set("X-Rxid", rxid)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	return &edge.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}
