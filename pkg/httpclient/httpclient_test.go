package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeSucceedsAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	failures := []int{}
	p := Probe{
		URL:       srv.URL,
		Header:    http.Header{"X-API-Key": []string{"secret"}},
		MaxRetry:  5,
		Delay:     time.Millisecond,
		OnAttempt: func(n int) { failures = append(failures, n) },
	}
	require.NoError(t, p.Wait(context.Background()))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []int{0, 1, 2}, failures)
}

func TestProbeGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := Probe{
		URL:      srv.URL,
		MaxRetry: 3,
		Delay:    time.Millisecond,
		Failure:  "daemon not responding (url=" + srv.URL + ")",
	}
	err := p.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, "daemon not responding (url="+srv.URL+")", err.Error())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestProbeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := Probe{URL: srv.URL, MaxRetry: 1000, Delay: 10 * time.Millisecond}
	err := p.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid folder"}`))
		case "/text":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom\n"))
		case "/empty":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	c := NewREST(srv.URL+"/", "", "")

	err := DecodeError(c.R().Get("/json"))
	require.Error(t, err)
	assert.Equal(t, "invalid folder", err.Error())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	assert.EqualError(t, DecodeError(c.R().Get("/text")), "boom")
	assert.EqualError(t, DecodeError(c.R().Get("/empty")), "404 - Not Found")
	assert.NoError(t, DecodeError(c.R().Get("/ok")))
}
