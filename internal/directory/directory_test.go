package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

func fastOptions() Options {
	return Options{
		Timeout:         500 * time.Millisecond,
		MaxRetries:      2,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
		BreakerFailures: 10,
		BreakerTimeout:  time.Minute,
	}
}

func TestClient_Exists(t *testing.T) {
	known := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Path == "/branches/"+known.String() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"` + known.String() + `"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", srv.Client())

	ok, err := c.Exists(context.Background(), known)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_HasCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/capacity"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"has_capacity":true}`))
	}))
	defer srv.Close()

	ok, err := NewClient(srv.URL, "", srv.Client()).HasCapacity(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", srv.Client()).Exists(context.Background(), uuid.New())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.False(t, se.Retryable())
}

func TestResilient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewResilient(NewClient(srv.URL, "", srv.Client()), fastOptions(), nil, nil)
	ok, err := r.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResilient_GivesUpAsIntegrationError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewResilient(NewClient(srv.URL, "", srv.Client()), fastOptions(), nil, nil)
	_, err := r.HasCapacity(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIntegrationFailure)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResilient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewResilient(NewClient(srv.URL, "", srv.Client()), fastOptions(), nil, nil)
	_, err := r.Exists(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrIntegrationFailure)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResilient_TimesOutSlowCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.MaxRetries = 0
	r := NewResilient(NewClient(srv.URL, "", srv.Client()), opts, nil, nil)

	_, err := r.Exists(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrIntegrationFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResilient_BreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.MaxRetries = 0
	opts.BreakerFailures = 2
	r := NewResilient(NewClient(srv.URL, "", srv.Client()), opts, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Exists(context.Background(), uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrIntegrationFailure)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestResilient_CachesKnownBranches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.CacheTTL = time.Minute
	r := NewResilient(NewClient(srv.URL, "", srv.Client()), opts, nil, nil)
	id := uuid.New()

	for i := 0; i < 3; i++ {
		ok, err := r.Exists(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	known := uuid.New()
	s := NewStatic(known)

	ok, _ := s.Exists(ctx, known)
	assert.True(t, ok)
	ok, _ = s.Exists(ctx, uuid.New())
	assert.False(t, ok)

	ok, _ = s.HasCapacity(ctx, known)
	assert.True(t, ok)
	s.SetFull(known, true)
	ok, _ = s.HasCapacity(ctx, known)
	assert.False(t, ok)

	s.Open = true
	ok, _ = s.Exists(ctx, uuid.New())
	assert.True(t, ok)
}
