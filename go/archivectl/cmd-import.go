package main

import (
	"context"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/ingest"
	"github.com/govwatch/archive/go/store"
)

type cmdImport struct {
	Log      LogConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Database catalog.Config `group:"Database" namespace:"db"`
	Store    store.Config   `group:"Storage" namespace:"store"`

	File         string `long:"file" required:"true" description:"CISA .gov dataset CSV to import"`
	PriorityFile string `long:"priority-file" description:"CSV of domains to monitor at high priority"`
}

func (cmd cmdImport) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	var cat, _, err = openPipeline(ctx, cmd.Database, cmd.Store)
	if err != nil {
		return err
	}
	defer cat.Close()

	_, err = ingest.Import(ctx, cat, cmd.File, cmd.PriorityFile)
	return err
}
