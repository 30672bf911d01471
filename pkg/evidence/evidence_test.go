package evidence_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofofgood/engine/pkg/evidence"
)

func TestGatewayCheck(t *testing.T) {
	content := map[string]string{
		"bafyvideo": "video/mp4",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		ct, ok := content[r.URL.Path[len("/ipfs/"):]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(2048))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g, err := evidence.NewGateway(evidence.GatewayOpts{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	info, err := g.Check(context.Background(), "bafyvideo")
	require.NoError(t, err)
	assert.Equal(t, "bafyvideo", info.Ref)
	assert.Equal(t, "video/mp4", info.ContentType)
	assert.Equal(t, int64(2048), info.Size)

	_, err = g.Check(context.Background(), "missing")
	assert.ErrorContains(t, err, "404")
}

func TestNewGatewayRequiresBaseURL(t *testing.T) {
	_, err := evidence.NewGateway(evidence.GatewayOpts{})
	assert.Error(t, err)
}

func TestStaticStore(t *testing.T) {
	s := evidence.NewStatic()
	s.Known["bafyphoto"] = evidence.Info{Ref: "bafyphoto", ContentType: "image/png"}

	info, err := s.Check(context.Background(), "bafyphoto")
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ContentType)

	_, err = s.Check(context.Background(), "unknown")
	assert.Error(t, err)

	t.Run("accept all", func(t *testing.T) {
		open := evidence.NewStatic()
		open.AcceptAll = true
		info, err := open.Check(context.Background(), "anything")
		require.NoError(t, err)
		assert.Equal(t, "anything", info.Ref)
	})
}
