package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tripupdate-processor/internal/gtfs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open returns a small pool; the route catalog issues one query per refresh.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchRoutes returns every route in the GTFS import with its route_type.
func FetchRoutes(ctx context.Context, db *sql.DB) ([]gtfs.Route, error) {
	cols, err := hasColumns(ctx, db, "public", "routes", "route_type", "route_short_name")
	if err != nil {
		return nil, fmt.Errorf("inspect routes: %w", err)
	}
	if !cols["route_type"] {
		return nil, fmt.Errorf("routes table has no route_type column")
	}
	shortName := "''"
	if cols["route_short_name"] {
		shortName = "COALESCE(route_short_name, '')"
	}

	q := `SELECT route_id, ` + shortName + `, route_type FROM routes`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []gtfs.Route
	for rows.Next() {
		var r gtfs.Route
		var rt int
		if err := rows.Scan(&r.RouteID, &r.ShortName, &rt); err != nil {
			return nil, err
		}
		r.Type = gtfs.RouteType(rt)
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return routes, nil
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
