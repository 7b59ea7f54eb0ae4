package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/odgrid/internal/grid"
	"github.com/leapstack-labs/odgrid/internal/odata"
	"github.com/leapstack-labs/odgrid/internal/state"
)

// connection bundles everything a command needs to talk to one
// environment. Close releases the store.
type connection struct {
	envName string
	envURL  string
	client  *odata.Client
	store   *state.Store
	session *grid.Session
}

func (c *connection) Close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}

// connect resolves the active environment, opens the local store, and
// builds a grid session rendering to out. out may be nil for commands
// that render their own output.
func (a *App) connect(out io.Writer) (*connection, error) {
	envName, env, err := a.Config.ActiveEnvironment(a.EnvFlag)
	if err != nil {
		return nil, err
	}

	store, err := openStore(a.Config.StatePath)
	if err != nil {
		a.Logger.Warn("local store unavailable, continuing without it", "error", err)
		store = nil
	}

	var cache odata.MetadataCache
	if store != nil {
		cache = store
		if env.Label != "" {
			if err := store.SetEnvironmentLabel(env.URL, env.Label); err != nil {
				a.Logger.Warn("could not store environment label", "error", err)
			}
		}
	}

	client, err := odata.NewClient(odata.Config{BaseURL: env.URL, Token: env.Token}, a.Logger, cache)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	var renderer grid.Renderer
	if out != nil {
		renderer = NewTableRenderer(out)
	}
	session := grid.NewSession(client, renderer, a.Logger)
	if a.Config.PageSize > 0 && a.Config.PageSize != grid.DefaultPageSize {
		// Seed the configured page size without triggering a load.
		session.SetDeferReload(true)
		_ = session.SetPageSize(context.Background(), a.Config.PageSize)
		session.SetDeferReload(false)
		session.ConsumeReloadNeeded()
	}

	return &connection{
		envName: envName,
		envURL:  env.URL,
		client:  client,
		store:   store,
		session: session,
	}, nil
}

func openStore(path string) (*state.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path not set")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create state directory: %w", err)
		}
	}
	return state.Open(path)
}

// warmup fetches the entity list and the recent-entities list in
// parallel so the first prompt appears with both ready.
func (c *connection) warmup(ctx context.Context) ([]*odata.Schema, []state.RecentEntity, error) {
	var (
		entities []*odata.Schema
		recents  []state.RecentEntity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = c.session.AllEntities(gctx)
		return err
	})
	g.Go(func() error {
		if c.store == nil {
			return nil
		}
		var err error
		recents, err = c.store.RecentEntities(c.envURL, 10)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entities, recents, nil
}

// touchRecent records an entity open, best effort.
func (c *connection) touchRecent(name string) {
	if c.store == nil || name == "" {
		return
	}
	_ = c.store.TouchRecent(name, c.envURL)
}
