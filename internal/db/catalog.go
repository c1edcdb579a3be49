package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tripupdate-processor/internal/gtfs"
)

// RouteLoader supplies the full route list on every refresh.
type RouteLoader interface {
	LoadRoutes(ctx context.Context) ([]gtfs.Route, error)
}

// Source loads routes from a GTFS import database. With a city set it
// follows the newest import of that city, switching databases when a newer
// one lands or the current one stops answering.
type Source struct {
	baseDSN string
	city    string
	log     *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	dbName string
}

func NewSource(ctx context.Context, baseDSN, city string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Source{baseDSN: baseDSN, city: city, log: log}

	dsn := baseDSN
	if city != "" {
		var err error
		dsn, s.dbName, err = resolveCityDSN(ctx, baseDSN, city)
		if err != nil {
			return nil, fmt.Errorf("resolve latest import for city %q: %w", city, err)
		}
		log.Info("using route database", slog.String("db", s.dbName), slog.String("city", city))
	}
	conn, err := Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	s.db = conn
	return s, nil
}

func (s *Source) LoadRoutes(ctx context.Context) ([]gtfs.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.city != "" {
		s.maybeSwitch(ctx)
	}
	return FetchRoutes(ctx, s.db)
}

// maybeSwitch moves to the newest import for the city. Failures keep the
// current connection.
func (s *Source) maybeSwitch(ctx context.Context) {
	needSwitch := false
	if err := Ping(ctx, s.db); err != nil {
		s.log.Warn("db ping failed, re-resolving city db", slog.Any("error", err))
		needSwitch = true
	}
	dsn, name, err := resolveCityDSN(ctx, s.baseDSN, s.city)
	if err != nil {
		s.log.Warn("resolve latest import failed", slog.Any("error", err))
		return
	}
	if name != s.dbName {
		s.log.Info("detected updated db for city",
			slog.String("city", s.city),
			slog.String("from", s.dbName),
			slog.String("to", name),
		)
		needSwitch = true
	}
	if !needSwitch {
		return
	}

	conn, err := Open(dsn)
	if err != nil {
		s.log.Warn("open new db failed", slog.Any("error", err))
		return
	}
	if err := Ping(ctx, conn); err != nil {
		s.log.Warn("ping new db failed", slog.Any("error", err))
		conn.Close()
		return
	}
	s.db.Close()
	s.db, s.dbName = conn, name
	s.log.Info("switched route db", slog.String("db", name), slog.String("city", s.city))
}

// Ping checks the database currently in use. The lock is held so a
// concurrent switch cannot close the handle mid-ping.
func (s *Source) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Ping(ctx, s.db)
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type CatalogMetrics interface {
	CatalogRefreshed(routes int, err error)
}

// Catalog maps route ids to GTFS route types. It satisfies route.RouteTypes.
type Catalog struct {
	loader  RouteLoader
	metrics CatalogMetrics
	log     *slog.Logger

	mu    sync.RWMutex
	types map[string]int

	wg sync.WaitGroup
}

func NewCatalog(loader RouteLoader, m CatalogMetrics, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{loader: loader, metrics: m, log: log, types: map[string]int{}}
}

func (c *Catalog) RouteType(routeID string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[routeID]
	return t, ok
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// Refresh replaces the catalog contents. On error the previous contents
// stay in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	routes, err := c.loader.LoadRoutes(ctx)
	if c.metrics != nil {
		c.metrics.CatalogRefreshed(len(routes), err)
	}
	if err != nil {
		return fmt.Errorf("refresh route catalog: %w", err)
	}
	types := make(map[string]int, len(routes))
	for _, r := range routes {
		types[r.RouteID] = int(r.Type)
	}
	c.mu.Lock()
	c.types = types
	c.mu.Unlock()
	c.log.Info("route catalog refreshed", slog.Int("routes", len(types)))
	return nil
}

// StartRefresher reloads the catalog every interval until ctx is done.
func (c *Catalog) StartRefresher(ctx context.Context, interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.log.Warn("route catalog refresh failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// Wait blocks until the refresher has stopped.
func (c *Catalog) Wait() { c.wg.Wait() }
