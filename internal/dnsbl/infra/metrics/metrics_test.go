package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
)

func TestCounters(t *testing.T) {
	m := New()

	m.LookupIssued("zen.example")
	m.LookupIssued("zen.example")
	m.LookupIssued("bl.example")
	m.ListHit("zen.example")
	m.GarbageReply("bl.example")
	m.ClientRejected("zen.example")
	m.PendingLookups(3)
	m.PendingLookups(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues("zen.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("bl.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("zen.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.garbage.WithLabelValues("bl.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("zen.example")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pending))
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.ListHit("zen.example")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.hits.WithLabelValues("zen.example")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ClientRejected("zen.example")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `dnsbl_rejected_total{list="zen.example"} 1`)
	assert.Contains(t, body, "dnsbl_pending_lookups 0")
	assert.Contains(t, body, "go_goroutines")
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(ctx, addr, log.NewNoopLogger()) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "dnsbl_pending_lookups"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
