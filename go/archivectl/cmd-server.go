package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/crawler"
	"github.com/govwatch/archive/go/diff"
	"github.com/govwatch/archive/go/notify"
	"github.com/govwatch/archive/go/queue"
	"github.com/govwatch/archive/go/scheduler"
	"github.com/govwatch/archive/go/store"
)

type cmdServe struct {
	Log       LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Database  catalog.Config    `group:"Database" namespace:"db"`
	Redis     queue.RedisConfig `group:"Redis" namespace:"redis"`
	Store     store.Config      `group:"Storage" namespace:"store"`
	Crawler   crawler.Config    `group:"Crawler" namespace:"crawler"`
	Scheduler scheduler.Config  `group:"Scheduler" namespace:"scheduler"`
	Diff      diff.Config       `group:"Diff" namespace:"diff"`
	Webhook   notify.Config     `group:"Webhooks" namespace:"webhook"`

	MetricsPort int `long:"metrics-port" env:"METRICS_PORT" default:"8090" description:"Port of the Prometheus metrics listener"`
}

func (cmd cmdServe) Execute(_ []string) error {
	initLog(cmd.Log)

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cat, st, err = openPipeline(ctx, cmd.Database, cmd.Store)
	if err != nil {
		return err
	}
	defer cat.Close()

	// The distributed lock is optional: without Redis the scheduler runs
	// in single-instance mode.
	var locker *queue.Locker
	if locker, err = queue.NewLocker(ctx, cmd.Redis); err != nil {
		log.WithField("err", err).Warn("redis unavailable; scheduling without a distributed lock")
		locker = nil
	} else {
		defer locker.Close()
	}

	var renderer crawler.Renderer
	if cmd.Crawler.EnableScreenshots || cmd.Crawler.EnablePDF {
		renderer = &crawler.ChromeRenderer{UserAgent: cmd.Crawler.UserAgent}
	}

	var broker = queue.NewBroker()
	broker.RetryDelay = cmd.Crawler.RetryDelay
	var worker = crawler.NewWorker(cat, st, renderer, cmd.Crawler)
	var engine = diff.NewEngine(cat, st, cmd.Diff)
	var notifier = notify.NewNotifier(cmd.Webhook)

	var capture = func(ctx context.Context, site *catalog.Site) (bool, error) {
		var snap, err = worker.Capture(ctx, site)
		if err != nil {
			return false, err
		}
		return crawler.DetectChange(ctx, cat, broker, site, snap)
	}

	var sched = scheduler.NewScheduler(cat, broker, engine, locker, capture,
		cmd.Scheduler, cmd.Crawler.MaxRetries)
	sched.OnDiff = notifier.NotifyDiff

	go func() {
		var mux = http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		var addr = fmt.Sprintf(":%d", cmd.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithFields(log.Fields{"addr": addr, "err": err}).Error("metrics listener failed")
		}
	}()

	return sched.Run(ctx)
}
