package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatsCreated        prometheus.Counter
	ChatsDeleted        prometheus.Counter
	MessagesPosted      prometheus.Counter
	FallbackReplies     prometheus.Counter
	RateLimited         prometheus.Counter
	UpstreamRequests    *prometheus.CounterVec
	StorageQuarantined  prometheus.Counter
	StorageWriteFailure prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "chats_created_total",
				Help:      "Total chats created",
			}),
			ChatsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "chats_deleted_total",
				Help:      "Total chat delete requests",
			}),
			MessagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "messages_posted_total",
				Help:      "Total user messages accepted",
			}),
			FallbackReplies: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "fallback_replies_total",
				Help:      "Total assistant replies produced by the local fallback responder",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "rate_limited_total",
				Help:      "Total messages rejected by the per-chat rate limit",
			}),
			UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "upstream_requests_total",
				Help:      "Upstream generation service calls by endpoint and result",
			}, []string{"endpoint", "result"}),
			StorageQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "storage_quarantined_total",
				Help:      "Corrupted data files moved aside to .backup",
			}),
			StorageWriteFailure: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "storage_write_failures_total",
				Help:      "Data file writes that failed and were dropped",
			}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "personachat",
				Name:      "http_requests_total",
				Help:      "HTTP API requests by route and status code",
			}, []string{"route", "code"}),
		}
		prometheus.MustRegister(
			global.ChatsCreated,
			global.ChatsDeleted,
			global.MessagesPosted,
			global.FallbackReplies,
			global.RateLimited,
			global.UpstreamRequests,
			global.StorageQuarantined,
			global.StorageWriteFailure,
			global.HTTPRequests,
		)
	})
	return global
}
