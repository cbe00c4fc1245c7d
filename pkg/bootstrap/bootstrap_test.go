package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nanopubsub.com/pkg/logger"
)

type fakeService struct {
	started atomic.Bool
	closed  atomic.Int32
}

func (s *fakeService) Start(ctx context.Context) { s.started.Store(true) }

func (s *fakeService) Close() error {
	s.closed.Add(1)
	return nil
}

func TestRun_MissingOptions(t *testing.T) {
	err := Run(context.Background(), Options{})
	require.Error(t, err)
}

func TestRun_BuildFailure(t *testing.T) {
	logger.Nop()
	boom := errors.New("bind: address already in use")
	err := Run(context.Background(), Options{
		ServiceName:  "test",
		BuildService: func(ctx context.Context) (Service, string, error) { return nil, "", boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsOnCancel(t *testing.T) {
	logger.Nop()
	svc := &fakeService{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			ServiceName:  "test",
			MetricsAddr:  "127.0.0.1:0",
			PprofAddr:    "127.0.0.1:0",
			BuildService: func(ctx context.Context) (Service, string, error) { return svc, "127.0.0.1:11011", nil },
		})
	}()

	require.Eventually(t, svc.started.Load, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(1), svc.closed.Load())
}

func TestMetricsMux(t *testing.T) {
	srv := httptest.NewServer(MetricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type namedService struct{ fakeService }

func (s *namedService) ID() string { return "b-1" }

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "b-1", instanceID(&namedService{}))
	assert.Len(t, instanceID(&fakeService{}), 36)
}
