// Package evidence resolves the opaque evidence references participants
// attach to proof submissions. The engine never interprets a reference; the
// API layer uses this package to optionally check that a reference actually
// points at retrievable content before accepting a submission.
package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proofofgood/engine/pkg/utils"
)

// Info describes a resolved evidence object.
type Info struct {
	Ref         string
	ContentType string
	Size        int64
}

// Store checks evidence references for retrievability.
type Store interface {
	// Check resolves ref and returns what is known about the content.
	// A non-nil error means the reference could not be confirmed.
	Check(ctx context.Context, ref string) (Info, error)
}

// Gateway resolves references through a content-addressed HTTP gateway,
// e.g. an IPFS gateway where ref "bafy..." maps to GET /ipfs/bafy....
type Gateway struct {
	base   string
	prefix string
	client *http.Client
}

// GatewayOpts configures a Gateway.
type GatewayOpts struct {
	// BaseURL is the gateway origin, e.g. "https://ipfs.io".
	BaseURL string
	// PathPrefix is prepended to the reference, default "/ipfs/".
	PathPrefix string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewGateway(o GatewayOpts) (*Gateway, error) {
	if o.BaseURL == "" {
		return nil, fmt.Errorf("evidence gateway base url required")
	}
	if _, err := url.Parse(o.BaseURL); err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if o.PathPrefix == "" {
		o.PathPrefix = "/ipfs/"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &Gateway{
		base:   strings.TrimRight(o.BaseURL, "/"),
		prefix: o.PathPrefix,
		client: client,
	}, nil
}

// Check issues a HEAD request for the reference. The gateway answering 2xx
// is taken as proof the content is retrievable.
func (g *Gateway) Check(ctx context.Context, ref string) (Info, error) {
	target := g.base + g.prefix + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return Info{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Info{}, fmt.Errorf("evidence %q: gateway returned %d", ref, resp.StatusCode)
	}
	return Info{
		Ref:         ref,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// Static is an in-memory store for tests and for deployments that treat
// references as self-attested.
type Static struct {
	Known map[string]Info
	// AcceptAll makes Check succeed for every non-empty reference.
	AcceptAll bool
}

func NewStatic() *Static {
	return &Static{Known: map[string]Info{}}
}

func (s *Static) Check(_ context.Context, ref string) (Info, error) {
	if s.AcceptAll {
		return Info{Ref: ref}, nil
	}
	info, ok := s.Known[ref]
	if !ok {
		return Info{}, fmt.Errorf("evidence %q: unknown reference", ref)
	}
	return info, nil
}
