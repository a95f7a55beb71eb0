package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cameronsjo/rigging/internal/compose"
	"github.com/cameronsjo/rigging/internal/config"
	"github.com/cameronsjo/rigging/internal/lock"
	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/server"
	"github.com/cameronsjo/rigging/internal/store"
)

const lockName = lock.StoreName

// backend is what the CLI commands run against: the local store through a
// compose.Service, or a running server through its client.
type backend interface {
	Preview(ctx context.Context, req compose.Request) (*compose.Result, error)
	Commit(ctx context.Context, req compose.CommitRequest) (*compose.Result, *manifest.CompositeResource, error)
	Render(ctx context.Context, id string) (*compose.Result, error)

	ListProfiles(ctx context.Context, category manifest.Category, namespace string) ([]*manifest.Profile, error)
	GetProfile(ctx context.Context, category manifest.Category, id string) (*manifest.Profile, error)
	CreateProfile(ctx context.Context, category manifest.Category, p *manifest.Profile) (*manifest.Profile, error)
	UpdateProfile(ctx context.Context, category manifest.Category, id string, p *manifest.Profile) (*manifest.Profile, error)
	DeleteProfile(ctx context.Context, category manifest.Category, id string) error
	Dependents(ctx context.Context, profileID string) ([]manifest.ConsumerRef, error)

	ListComposites(ctx context.Context, namespace string) ([]*manifest.CompositeResource, error)
	GetComposite(ctx context.Context, id string) (*manifest.CompositeResource, error)
	SaveComposite(ctx context.Context, c *manifest.CompositeResource) (*manifest.CompositeResource, error)
	DeleteComposite(ctx context.Context, id string) error

	Close() error
}

// localBackend runs commands in-process against the configured store.
type localBackend struct {
	*compose.Service
	store store.Store
	lock  *lock.Lock
}

func (b *localBackend) Preview(ctx context.Context, req compose.Request) (*compose.Result, error) {
	return b.Service.Preview(ctx, req), nil
}

func (b *localBackend) Close() error {
	err := b.store.Close()
	if b.lock != nil {
		err = errors.Join(err, b.lock.Release())
	}
	return err
}

// remoteBackend runs commands against a rigging server.
type remoteBackend struct {
	*server.Client
}

func (remoteBackend) Close() error { return nil }

func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	return os.Getenv("RIGGING_SERVER")
}

// openBackend returns the backend for this invocation. Mutating commands on
// the local store hold the data directory lock until Close.
func openBackend(mutating bool) (backend, error) {
	if url := resolveServerURL(); url != "" {
		return remoteBackend{Client: server.NewClient(url)}, nil
	}

	cfg, st, lk, err := openLocal(mutating)
	if err != nil {
		return nil, err
	}

	svc := compose.NewService(st, compose.Options{
		ComposeTimeout:   cfg.ComposeTimeout,
		DefaultNamespace: cfg.DefaultNamespace,
	})
	return &localBackend{Service: svc, store: st, lock: lk}, nil
}

// openLocal loads the config and opens its store, taking the data directory
// lock first for mutating commands on sqlite.
func openLocal(mutating bool) (*config.Config, store.Store, *lock.Lock, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	var lk *lock.Lock
	if mutating && cfg.Store.Driver == store.DriverSQLite {
		lk = lock.New(cfg.DataDir, lockName)
		if err := lk.Acquire(); err != nil {
			return nil, nil, nil, err
		}
	}

	st, err := cfg.OpenStore()
	if err != nil {
		if lk != nil {
			lk.Release()
		}
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, lk, nil
}

// withLocalStore runs fn against the local store, which commands that work
// on the data directory itself need regardless of --server.
func withLocalStore(ctx context.Context, mutating bool, fn func(ctx context.Context, cfg *config.Config, st store.Store) error) (err error) {
	cfg, st, lk, err := openLocal(mutating)
	if err != nil {
		return err
	}
	b := &localBackend{store: st, lock: lk}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(ctx, cfg, st)
}

// withBackend opens a backend, runs fn and closes the backend.
func withBackend(ctx context.Context, mutating bool, fn func(ctx context.Context, b backend) error) (err error) {
	b, err := openBackend(mutating)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(ctx, b)
}
