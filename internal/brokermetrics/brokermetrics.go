package brokermetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"nanopubsub.com/internal/registry"
)

const namespace = "nanopubsub"

var (
	FramesInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_in_total",
		Help:      "Datagrams decoded by the receiver, partitioned by frame kind",
	}, []string{"kind"})
	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Datagrams dropped because they could not be decoded",
	})
	ReceiveErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "receive_errors_total",
		Help:      "Socket receive errors on the inbound socket",
	})

	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_total",
		Help:      "Publishes accepted by the broker",
	}, []string{"origin"}) // local/remote
	SubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sub_ops_total",
		Help:      "Subscription operations",
	}, []string{"side", "op"}) // remote|local, sub|unsub

	FramesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_out_total",
		Help:      "Datagrams sent to remote subscribers",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_out_total",
		Help:      "Bytes sent to remote subscribers",
	})
	SendSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_skipped_total",
		Help:      "Remote deliveries that were not sent",
	}, []string{"why"}) // transport/no_address/breaker_open

	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Per-destination circuit breaker state changes",
	}, []string{"to"}) // closed/open/half-open

	LocalDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "local_deliveries_total",
		Help:      "Local handler invocations that returned without error",
	})
	HandlerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_errors_total",
		Help:      "Local handler invocations that failed or panicked",
	})

	FanoutSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fanout_size",
		Help:      "Number of subscribers targeted per publish",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
	}, []string{"side"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Messages waiting in a broker queue",
	}, []string{"queue"})
	RegistrySize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_size",
		Help:      "Entries in the subscription registry",
	}, []string{"entry"})
)

func ObserveRegistry(st registry.Stats) {
	RegistrySize.WithLabelValues("remote_topics").Set(float64(st.RemoteTopics))
	RegistrySize.WithLabelValues("local_topics").Set(float64(st.LocalTopics))
	RegistrySize.WithLabelValues("remote_clients").Set(float64(st.RemoteClients))
	RegistrySize.WithLabelValues("local_clients").Set(float64(st.LocalClients))
}

func ObserveSend(bytes int, err error) {
	if err != nil {
		SendSkippedTotal.WithLabelValues("transport").Inc()
		return
	}
	FramesOutTotal.Inc()
	BytesOutTotal.Add(float64(bytes))
}

func ObserveHandler(err error) {
	if err != nil {
		HandlerErrorsTotal.Inc()
		return
	}
	LocalDeliveriesTotal.Inc()
}
