package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var capturesStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "archive_captures_started_total",
	Help: "counter of capture jobs dispatched to workers",
})

var capturesHandledCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "archive_captures_handled_total",
	Help: "counter of finished capture jobs by outcome",
}, []string{"outcome"})

var changesDetectedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "archive_changes_detected_total",
	Help: "counter of captures whose content differed from the prior snapshot",
})

var diffsHandledCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "archive_diffs_handled_total",
	Help: "counter of processed diff queue entries by outcome",
}, []string{"outcome"})

var queueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "archive_queue_depth",
	Help: "pending jobs per in-memory queue",
}, []string{"queue"})

var activeCrawlsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "archive_active_crawls",
	Help: "captures currently running",
})
