package main

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/diff"
	"github.com/govwatch/archive/go/store"
)

type cmdDiff struct {
	Log      LogConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Database catalog.Config `group:"Database" namespace:"db"`
	Store    store.Config   `group:"Storage" namespace:"store"`
	Diff     diff.Config    `group:"Diff" namespace:"diff"`

	SiteID    int64 `long:"archive-id" required:"true" description:"Site owning both snapshots"`
	Snapshot1 int64 `long:"snapshot1" required:"true" description:"Older snapshot id"`
	Snapshot2 int64 `long:"snapshot2" required:"true" description:"Newer snapshot id"`
}

func (cmd cmdDiff) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	var cat, st, err = openPipeline(ctx, cmd.Database, cmd.Store)
	if err != nil {
		return err
	}
	defer cat.Close()

	for _, id := range []int64{cmd.Snapshot1, cmd.Snapshot2} {
		snap, err := cat.GetSnapshot(ctx, id)
		if err != nil {
			return err
		} else if snap == nil {
			return fmt.Errorf("snapshot %d does not exist", id)
		} else if snap.SiteID != cmd.SiteID {
			return fmt.Errorf("snapshot %d does not belong to site %d", id, cmd.SiteID)
		}
	}

	d, err := diff.NewEngine(cat, st, cmd.Diff).Generate(ctx, cmd.Snapshot1, cmd.Snapshot2)
	if errors.Is(err, diff.ErrUnchanged) {
		log.Info("snapshots carry identical content; no diff to produce")
		return nil
	} else if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"diff":         d.ID,
		"path":         d.DiffPath,
		"additions":    d.Stats.Additions,
		"deletions":    d.Stats.Deletions,
		"significance": d.Significance,
	}).Info("diff generated")
	return nil
}
