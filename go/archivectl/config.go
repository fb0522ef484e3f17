package main

import (
	"context"
	"fmt"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/store"
)

// openPipeline opens the catalog and artifact store shared by every
// command, ensuring the schema exists. Failure here is unrecoverable.
func openPipeline(ctx context.Context, dbCfg catalog.Config, storeCfg store.Config) (*catalog.Catalog, *store.Store, error) {
	var cat, err = catalog.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	if err = cat.EnsureSchema(ctx, dbCfg.Driver); err != nil {
		cat.Close()
		return nil, nil, fmt.Errorf("ensuring catalog schema: %w", err)
	}

	st, err := store.NewStore(storeCfg.Root)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}
	return cat, st, nil
}
