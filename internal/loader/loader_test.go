package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/mapkit/internal/models"
)

type fakeFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ Asset) error {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func oneAsset(models.Provider) []Asset {
	return []Asset{{Kind: Script, URL: "https://sdk.example/sdk.js"}}
}

func TestEnsureLoadedSharesInFlightLoad(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	l := New(f, oneAsset)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.EnsureLoaded(context.Background(), models.ProviderOSM)
		}()
	}

	require.Eventually(t, func() bool { return l.State(models.ProviderOSM) == Loading }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, Loaded, l.State(models.ProviderOSM))

	require.NoError(t, l.EnsureLoaded(context.Background(), models.ProviderOSM))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestEnsureLoadedFailureIsPermanent(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	l := New(f, oneAsset)

	err := l.EnsureLoaded(context.Background(), models.ProviderGoogle)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, Failed, l.State(models.ProviderGoogle))

	err = l.EnsureLoaded(context.Background(), models.ProviderGoogle)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestEnsureLoadedProvidersAreIndependent(t *testing.T) {
	f := &fakeFetcher{}
	l := New(f, oneAsset)

	require.NoError(t, l.EnsureLoaded(context.Background(), models.ProviderOSM))
	assert.Equal(t, NotLoaded, l.State(models.ProviderAzure))
	require.NoError(t, l.EnsureLoaded(context.Background(), models.ProviderAzure))
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestEnsureLoadedCallerCancellation(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	l := New(f, oneAsset)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.EnsureLoaded(ctx, models.ProviderOSM)
	assert.ErrorIs(t, err, context.Canceled)

	// The shared load keeps going for later callers.
	close(f.gate)
	require.NoError(t, l.EnsureLoaded(context.Background(), models.ProviderOSM))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestEnsureLoadedTimeout(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	l := New(f, oneAsset, WithTimeout(20*time.Millisecond))

	err := l.EnsureLoaded(context.Background(), models.ProviderAzure)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.js" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("window.L = {};"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	require.NoError(t, f.Fetch(context.Background(), Asset{Kind: Script, URL: srv.URL + "/leaflet.js"}))
	assert.Error(t, f.Fetch(context.Background(), Asset{Kind: Script, URL: srv.URL + "/missing.js"}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_loaded", NotLoaded.String())
	assert.Equal(t, "failed", Failed.String())
}
