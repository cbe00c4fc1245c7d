package brokermetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"nanopubsub.com/internal/registry"
)

func TestObserveRegistry(t *testing.T) {
	ObserveRegistry(registry.Stats{RemoteTopics: 3, LocalTopics: 2, RemoteClients: 5, LocalClients: 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(RegistrySize.WithLabelValues("remote_topics")))
	assert.Equal(t, 2.0, testutil.ToFloat64(RegistrySize.WithLabelValues("local_topics")))
	assert.Equal(t, 5.0, testutil.ToFloat64(RegistrySize.WithLabelValues("remote_clients")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RegistrySize.WithLabelValues("local_clients")))
}

func TestObserveSend(t *testing.T) {
	frames := testutil.ToFloat64(FramesOutTotal)
	bytes := testutil.ToFloat64(BytesOutTotal)
	failed := testutil.ToFloat64(SendSkippedTotal.WithLabelValues("transport"))

	ObserveSend(25, nil)
	ObserveSend(0, errors.New("connection refused"))

	assert.Equal(t, frames+1, testutil.ToFloat64(FramesOutTotal))
	assert.Equal(t, bytes+25, testutil.ToFloat64(BytesOutTotal))
	assert.Equal(t, failed+1, testutil.ToFloat64(SendSkippedTotal.WithLabelValues("transport")))
}

func TestObserveHandler(t *testing.T) {
	ok := testutil.ToFloat64(LocalDeliveriesTotal)
	bad := testutil.ToFloat64(HandlerErrorsTotal)

	ObserveHandler(nil)
	ObserveHandler(errors.New("boom"))

	assert.Equal(t, ok+1, testutil.ToFloat64(LocalDeliveriesTotal))
	assert.Equal(t, bad+1, testutil.ToFloat64(HandlerErrorsTotal))
}
