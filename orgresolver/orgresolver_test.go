package orgresolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app/ocache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/retry"
)

var ctx = context.Background()

const orgDoc = `{
	"id": "org-1.2",
	"labels": {"en": "Dept of Testing", "nb": "Testavdelingen"},
	"partOf": [{"id": "org-1", "labels": {"en": "University of Testing"}}]
}`

func newTestResolver(t *testing.T, handler http.Handler) *orgResolver {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r := &orgResolver{
		conf:   Config{ApiUrl: srv.URL},
		policy: retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		client: srv.Client(),
	}
	r.orgCache = ocache.New(r.fetchOrg)
	t.Cleanup(func() {
		_ = r.orgCache.Close()
	})
	return r
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("hierarchy expands", func(t *testing.T) {
		r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "/org-1.2", req.URL.Path)
			_, _ = w.Write([]byte(orgDoc))
		}))
		org, err := r.Resolve(ctx, "org-1.2")
		require.NoError(t, err)
		assert.Equal(t, "org-1.2", org.Id)
		assert.Equal(t, "Dept of Testing", org.Labels["en"])
		require.NotNil(t, org.PartOf)
		assert.Equal(t, "org-1", org.PartOf.Id)
		assert.True(t, org.Resolved())
	})
	t.Run("lookups are cached", func(t *testing.T) {
		var hits atomic.Int32
		r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte(orgDoc))
		}))
		_, err := r.Resolve(ctx, "org-1.2")
		require.NoError(t, err)
		_, err = r.Resolve(ctx, "org-1.2")
		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load())
	})
	t.Run("missing org is not retried", func(t *testing.T) {
		var hits atomic.Int32
		r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		_, err := r.Resolve(ctx, "org-gone")
		require.ErrorIs(t, err, ocache.ErrNotExists)
		assert.Equal(t, int32(1), hits.Load())
	})
	t.Run("server errors are retried", func(t *testing.T) {
		var hits atomic.Int32
		r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(orgDoc))
		}))
		org, err := r.Resolve(ctx, "org-1.2")
		require.NoError(t, err)
		assert.Equal(t, "org-1.2", org.Id)
		assert.Equal(t, int32(3), hits.Load())
	})
	t.Run("client errors are not retried", func(t *testing.T) {
		var hits atomic.Int32
		r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		_, err := r.Resolve(ctx, "org-1.2")
		require.Error(t, err)
		assert.Equal(t, int32(1), hits.Load())
	})
}
