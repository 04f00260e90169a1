package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/peersync/internal/adapter"
	"github.com/roach88/peersync/internal/config"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/store"
	"github.com/roach88/peersync/internal/store/sqlite"
	"github.com/roach88/peersync/internal/transport"
)

// backend is the local resource store, optionally backed by SQLite.
type backend struct {
	store *store.Store
	db    *sqlite.Store
}

// openBackend creates the store. With a database path every persisted
// snapshot is restored before use and every mutation is written through.
func openBackend(ctx context.Context, cfg config.Config, kinds []resource.Kind, dbPath string, storeOpts ...store.Option) (*backend, error) {
	b := &backend{}
	opts := append([]store.Option{store.WithLockTimeout(cfg.LockTimeout.Std())}, storeOpts...)

	if dbPath != "" {
		slog.Debug("opening database", "path", dbPath)
		db, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, err
		}
		b.db = db
		opts = append(opts, store.WithPersister(db))
	}
	b.store = store.New(opts...)

	if b.db == nil {
		return b, nil
	}
	byName := make(map[string]resource.Kind, len(kinds))
	for _, k := range kinds {
		byName[k.Name] = k
	}
	resources, err := b.db.Load(ctx, byName)
	if err != nil {
		b.Close()
		return nil, err
	}
	if err := b.store.Restore(resources...); err != nil {
		b.Close()
		return nil, err
	}
	slog.Debug("resources restored", "path", dbPath, "count", len(resources))
	return b, nil
}

func (b *backend) Close() {
	if b.db == nil {
		return
	}
	if err := b.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// setup is the configuration shared by push and patch.
type setup struct {
	cfg   config.Config
	kinds []resource.Kind
	opts  []adapter.Option
}

func loadSetup(o *RootOptions) (setup, error) {
	cfg, err := o.Config()
	if err != nil {
		return setup{}, err
	}
	kinds, err := cfg.ResourceKinds()
	if err != nil {
		return setup{}, err
	}
	filters, err := cfg.FilterSet()
	if err != nil {
		return setup{}, err
	}
	return setup{
		cfg:   cfg,
		kinds: kinds,
		opts: []adapter.Option{
			adapter.WithKinds(kinds...),
			adapter.WithFilters(filters),
			adapter.WithWorkers(cfg.Workers),
			adapter.WithApplyTimeout(cfg.ApplyTimeout.Std()),
		},
	}, nil
}

// kind returns the configured kind by name; empty selects the first.
func (s setup) kind(name string) (resource.Kind, error) {
	if name == "" {
		return s.kinds[0], nil
	}
	for _, k := range s.kinds {
		if k.Name == name {
			return k, nil
		}
	}
	return resource.Kind{}, fmt.Errorf("unknown kind %q", name)
}

// remoteClient builds the transport for endpoint, falling back to the
// configured remote. It returns nil when no endpoint is set.
func (s setup) remoteClient(endpoint string) (*transport.HTTPClient, error) {
	timeout := transport.DefaultTimeout
	var topts []transport.Option
	if r := s.cfg.Remote; r != nil {
		if endpoint == "" {
			endpoint = r.Endpoint
		}
		if r.Timeout > 0 {
			timeout = r.Timeout.Std()
		}
		if r.UserAgent != "" {
			topts = append(topts, transport.WithUserAgent(r.UserAgent))
		}
	}
	if endpoint == "" {
		return nil, nil
	}
	return transport.New(endpoint, timeout, topts...)
}

// database returns the flag value, falling back to the configured path.
func (s setup) database(flag string) string {
	if flag != "" {
		return flag
	}
	return s.cfg.Database
}

// commandContext derives a context cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
