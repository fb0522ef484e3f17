package main

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/crawler"
	"github.com/govwatch/archive/go/queue"
	"github.com/govwatch/archive/go/store"
)

type cmdCrawl struct {
	Log      LogConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Database catalog.Config `group:"Database" namespace:"db"`
	Store    store.Config   `group:"Storage" namespace:"store"`
	Crawler  crawler.Config `group:"Crawler" namespace:"crawler"`

	Domain string `long:"domain" required:"true" description:"Domain of the site to capture"`
}

func (cmd cmdCrawl) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	var cat, st, err = openPipeline(ctx, cmd.Database, cmd.Store)
	if err != nil {
		return err
	}
	defer cat.Close()

	site, err := cat.GetSiteByDomain(ctx, strings.ToLower(cmd.Domain))
	if err != nil {
		return err
	} else if site == nil {
		return fmt.Errorf("domain %q is not in the catalog; import it first", cmd.Domain)
	}

	var renderer crawler.Renderer
	if cmd.Crawler.EnableScreenshots || cmd.Crawler.EnablePDF {
		renderer = &crawler.ChromeRenderer{UserAgent: cmd.Crawler.UserAgent}
	}
	var worker = crawler.NewWorker(cat, st, renderer, cmd.Crawler)

	snap, err := worker.Capture(ctx, site)
	if err != nil {
		return err
	}
	changed, err := crawler.DetectChange(ctx, cat, queue.NewBroker(), site, snap)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"domain":   site.Domain,
		"snapshot": snap.ID,
		"changed":  changed,
	}).Info("capture finished")
	return nil
}
