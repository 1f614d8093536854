package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

func newWaiterClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{}
	cfg.Traefik.APIURL = srv.URL
	return New(cfg)
}

func TestWaitForRouter_ConvergesAfterRetries(t *testing.T) {
	var calls int32
	client := newWaiterClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var routers []RouterInfo
		if n >= 3 {
			routers = []RouterInfo{{Name: "jupyterhub_foo", Status: "enabled"}}
		}
		_ = json.NewEncoder(w).Encode(routers)
	})
	waiter := NewWaiter(client, 5*time.Second)

	err := waiter.WaitForRouter(context.Background(), "/foo/", "jupyterhub_foo")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 3)
}

func TestWaitForRouter_ProviderSuffixedNameMatches(t *testing.T) {
	client := newWaiterClient(t, func(w http.ResponseWriter, r *http.Request) {
		routers := []RouterInfo{{Name: "jupyterhub_foo@file", Status: "enabled"}}
		_ = json.NewEncoder(w).Encode(routers)
	})
	waiter := NewWaiter(client, 2*time.Second)

	err := waiter.WaitForRouter(context.Background(), "/foo/", "jupyterhub_foo")
	assert.NoError(t, err)
}

func TestWaitForRouter_DisabledNeverConverges(t *testing.T) {
	client := newWaiterClient(t, func(w http.ResponseWriter, r *http.Request) {
		routers := []RouterInfo{{Name: "jupyterhub_foo", Status: "disabled"}}
		_ = json.NewEncoder(w).Encode(routers)
	})
	waiter := NewWaiter(client, 200*time.Millisecond)

	err := waiter.WaitForRouter(context.Background(), "/foo/", "jupyterhub_foo")
	require.Error(t, err)
	assert.Equal(t, ctlerrors.RouteNotConverged, ctlerrors.KindOf(err))
}

func TestWaitForAbsence_SucceedsOnceRouterGone(t *testing.T) {
	var calls int32
	client := newWaiterClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var routers []RouterInfo
		if n < 2 {
			routers = []RouterInfo{{Name: "jupyterhub_foo", Status: "enabled"}}
		}
		_ = json.NewEncoder(w).Encode(routers)
	})
	waiter := NewWaiter(client, 2*time.Second)

	err := waiter.WaitForAbsence(context.Background(), "/foo/", "jupyterhub_foo")
	assert.NoError(t, err)
}

func TestWaitForAbsence_TimesOutIfStillPresent(t *testing.T) {
	client := newWaiterClient(t, func(w http.ResponseWriter, r *http.Request) {
		routers := []RouterInfo{{Name: "jupyterhub_foo", Status: "enabled"}}
		_ = json.NewEncoder(w).Encode(routers)
	})
	waiter := NewWaiter(client, 200*time.Millisecond)

	err := waiter.WaitForAbsence(context.Background(), "/foo/", "jupyterhub_foo")
	require.Error(t, err)
	assert.Equal(t, ctlerrors.RouteNotConverged, ctlerrors.KindOf(err))
}
