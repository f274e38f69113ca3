// Package eventdb persists events, their hits and their cluster lists in
// SQLite so the merging pipeline can be run and re-run offline.
package eventdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/hitmerge/internal/eventstore"
	"github.com/banshee-data/hitmerge/internal/httputil"
	"github.com/banshee-data/hitmerge/internal/reco"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrEventExists is returned when inserting an event ID that is already
// stored.
var ErrEventExists = errors.New("event already exists")

type DB struct {
	*sql.DB
	path string
}

// Event is one row of the events table.
type Event struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (e *Event) String() string {
	state := "pending"
	if e.ProcessedAt != nil {
		state = "processed " + e.ProcessedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("Event<%s %q %s>", e.ID, e.Label, state)
}

// Open opens (creating if needed) the SQLite database at path. The schema is
// not touched; call MigrateUp before use.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps per-connection pragmas in force and serialises
	// writers from concurrent workers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{DB: db, path: path}, nil
}

// MigrateUp applies all embedded migrations that have not run yet.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, or 0 if none.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// InsertEvent stores a new event with its hits, lists and clusters.
func (db *DB) InsertEvent(ctx context.Context, id, label string, store *eventstore.Store) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE event_id = ?`, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrEventExists, id)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO events (event_id, label) VALUES (?, ?)`, id, label); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO hits (event_id, hit_id, x, y, z, hadronic_energy, dir_x, dir_y, dir_z, pseudo_layer)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range store.Hits() {
			_, err := stmt.ExecContext(ctx, id, int64(h.ID),
				h.Position.X, h.Position.Y, h.Position.Z, h.HadronicEnergy,
				h.ExpectedDirection.X, h.ExpectedDirection.Y, h.ExpectedDirection.Z,
				int64(h.PseudoLayer))
			if err != nil {
				return fmt.Errorf("insert hit %d: %w", h.ID, err)
			}
		}

		return writeClusters(ctx, tx, id, store)
	})
}

// SaveEvent replaces the stored lists and clusters of an existing event with
// those of store and marks the event processed. Hits are immutable and are
// not rewritten.
func (db *DB) SaveEvent(ctx context.Context, id string, store *eventstore.Store) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE events SET processed_at = CURRENT_TIMESTAMP WHERE event_id = ?`, id)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: event %s", reco.ErrNotFound, id)
		}

		for _, table := range []string{"cluster_hits", "clusters", "cluster_lists"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE event_id = ?`, id); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return writeClusters(ctx, tx, id, store)
	})
}

func writeClusters(ctx context.Context, tx *sql.Tx, eventID string, store *eventstore.Store) error {
	for order, name := range store.ListNames() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cluster_lists (event_id, list_name, list_order) VALUES (?, ?, ?)`,
			eventID, name, order); err != nil {
			return fmt.Errorf("insert list %q: %w", name, err)
		}

		clusters, err := store.ClusterList(name)
		if err != nil {
			return err
		}
		for index, c := range clusters {
			dir := c.InitialDirection
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO clusters (event_id, cluster_id, list_name, list_index, dir_x, dir_y, dir_z)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				eventID, c.ID, name, index, dir.X, dir.Y, dir.Z); err != nil {
				return fmt.Errorf("insert cluster %s: %w", c.ID, err)
			}
			if err := writeMembers(ctx, tx, eventID, c.ID, c.OrderedHits().Hits(), false); err != nil {
				return err
			}
			if err := writeMembers(ctx, tx, eventID, c.ID, c.IsolatedHits(), true); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeMembers(ctx context.Context, tx *sql.Tx, eventID, clusterID string, hits []*reco.Hit, isolated bool) error {
	for _, h := range hits {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cluster_hits (event_id, cluster_id, hit_id, isolated) VALUES (?, ?, ?, ?)`,
			eventID, clusterID, int64(h.ID), isolated); err != nil {
			return fmt.Errorf("insert membership of hit %d in cluster %s: %w", h.ID, clusterID, err)
		}
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ListEvents returns every stored event ordered by creation time and ID.
func (db *DB) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT event_id, label, created_at, processed_at
		FROM events
		ORDER BY created_at, event_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var processed sql.NullTime
		if err := rows.Scan(&e.ID, &e.Label, &e.CreatedAt, &processed); err != nil {
			return nil, err
		}
		if processed.Valid {
			t := processed.Time
			e.ProcessedAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadEvent rebuilds the in-memory store for an event. Unknown IDs return
// an error wrapping reco.ErrNotFound.
func (db *DB) LoadEvent(ctx context.Context, id string) (*eventstore.Store, error) {
	var doc eventstore.Document
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE event_id = ?`, id).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: event %s", reco.ErrNotFound, id)
		}

		var err error
		if doc.Hits, err = loadHits(ctx, tx, id); err != nil {
			return err
		}
		doc.Lists, err = loadLists(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	store, err := eventstore.FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", id, err)
	}
	return store, nil
}

func loadHits(ctx context.Context, tx *sql.Tx, eventID string) ([]eventstore.HitDocument, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT hit_id, x, y, z, hadronic_energy, dir_x, dir_y, dir_z, pseudo_layer
		FROM hits WHERE event_id = ? ORDER BY rowid`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []eventstore.HitDocument
	for rows.Next() {
		var h eventstore.HitDocument
		var hitID, layer int64
		if err := rows.Scan(&hitID,
			&h.Position[0], &h.Position[1], &h.Position[2], &h.HadronicEnergy,
			&h.ExpectedDirection[0], &h.ExpectedDirection[1], &h.ExpectedDirection[2],
			&layer); err != nil {
			return nil, err
		}
		h.ID = uint64(hitID)
		h.PseudoLayer = uint32(layer)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func loadLists(ctx context.Context, tx *sql.Tx, eventID string) ([]eventstore.ListDocument, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT list_name FROM cluster_lists WHERE event_id = ? ORDER BY list_order`, eventID)
	if err != nil {
		return nil, err
	}
	var lists []eventstore.ListDocument
	index := make(map[string]int)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		index[name] = len(lists)
		lists = append(lists, eventstore.ListDocument{Name: name, Clusters: []eventstore.ClusterDocument{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT cluster_id, list_name, dir_x, dir_y, dir_z
		FROM clusters WHERE event_id = ? ORDER BY list_name, list_index`, eventID)
	if err != nil {
		return nil, err
	}
	type clusterRef struct{ list, pos int }
	where := make(map[string]clusterRef)
	for rows.Next() {
		var cd eventstore.ClusterDocument
		var list string
		if err := rows.Scan(&cd.ID, &list, &cd.InitialDirection[0], &cd.InitialDirection[1], &cd.InitialDirection[2]); err != nil {
			rows.Close()
			return nil, err
		}
		li, ok := index[list]
		if !ok {
			rows.Close()
			return nil, fmt.Errorf("cluster %s references unknown list %q", cd.ID, list)
		}
		where[cd.ID] = clusterRef{list: li, pos: len(lists[li].Clusters)}
		lists[li].Clusters = append(lists[li].Clusters, cd)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT cluster_id, hit_id, isolated
		FROM cluster_hits WHERE event_id = ? ORDER BY rowid`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var clusterID string
		var hitID int64
		var isolated bool
		if err := rows.Scan(&clusterID, &hitID, &isolated); err != nil {
			return nil, err
		}
		ref, ok := where[clusterID]
		if !ok {
			return nil, fmt.Errorf("hit %d references unknown cluster %s", hitID, clusterID)
		}
		cd := &lists[ref.list].Clusters[ref.pos]
		if isolated {
			cd.IsolatedHits = append(cd.IsolatedHits, uint64(hitID))
		} else {
			cd.Hits = append(cd.Hits, uint64(hitID))
		}
	}
	return lists, rows.Err()
}

// AttachAdminRoutes mounts the tsweb debug index and a tailsql console over
// the event database on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Hit merging events",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("events", "Stored events (JSON)", db.eventsHandler())
	debug.Handle("event", "One event document by ?id= (JSON)", db.eventHandler())
}

func (db *DB) eventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		events, err := db.ListEvents(r.Context())
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if events == nil {
			events = []Event{}
		}
		httputil.WriteJSON(w, http.StatusOK, events)
	})
}

func (db *DB) eventHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			httputil.BadRequest(w, "missing id parameter")
			return
		}
		store, err := db.LoadEvent(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, store.Document())
	})
}
