package social_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofofgood/engine/pkg/social"
)

func newGraphServer(t *testing.T, followers map[string]uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var addr string
		if n, _ := fmt.Sscanf(r.URL.Path, "/v1/users/%s", &addr); n != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case len(addr) > 6 && addr[len(addr)-6:] == "/stats":
			name := addr[:len(addr)-6]
			count, ok := followers[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{"address":%q,"followers_count":%d,"following_count":0}`, name, count)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientFollowerCount(t *testing.T) {
	srv := newGraphServer(t, map[string]uint64{"alice": 42})
	c := social.New(social.Opts{Endpoints: []string{srv.URL}, Timeout: time.Second})

	n, err := c.FollowerCount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	_, err = c.FollowerCount(context.Background(), "nobody")
	assert.Error(t, err)
}

func TestClientFollows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/users/alice/follows/bob" {
			fmt.Fprint(w, `{"follows":true}`)
			return
		}
		fmt.Fprint(w, `{"follows":false}`)
	}))
	defer srv.Close()
	c := social.New(social.Opts{Endpoints: []string{srv.URL}, Timeout: time.Second})

	ok, err := c.Follows(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Follows(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRotatesPastFailingEndpoint(t *testing.T) {
	var primaryHits atomic.Int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()
	secondary := newGraphServer(t, map[string]uint64{"alice": 7})

	c := social.New(social.Opts{
		Endpoints: []string{primary.URL, secondary.URL},
		Timeout:   time.Second,
	})

	n, err := c.FollowerCount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.Equal(t, int64(1), primaryHits.Load())
}

func TestClientBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := social.New(social.Opts{
		Endpoints:       []string{srv.URL},
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})

	ctx := context.Background()
	_, err := c.FollowerCount(ctx, "alice")
	require.Error(t, err)
	_, err = c.FollowerCount(ctx, "alice")
	require.Error(t, err)
	before := hits.Load()

	// Breaker is open now: further calls skip the endpoint entirely.
	n, _ := c.FollowerCount(ctx, "alice")
	assert.Zero(t, n)
	assert.Equal(t, before, hits.Load())
}

func TestClientNoEndpoints(t *testing.T) {
	c := social.New(social.Opts{})
	_, err := c.FollowerCount(context.Background(), "alice")
	assert.Error(t, err)
}
