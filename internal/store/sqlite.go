package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/cameronsjo/rigging/internal/manifest"
)

// SQLite is a Store backed by an SQLite database. It holds a single
// connection, so every transaction is serialized.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
// An empty path or ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const profileColumns = `id, category, name, namespace, description, config, merge_strategy, priority, includes, version, created_at, updated_at`

const compositeColumns = `id, name, namespace, kind, selection, overrides, version, created_at, updated_at`

func scanProfile(row scanner) (*manifest.Profile, error) {
	var (
		p                                manifest.Profile
		category, strategy, config, incl string
		createdAt, updatedAt             int64
	)
	err := row.Scan(&p.ID, &category, &p.Name, &p.Namespace, &p.Description, &config,
		&strategy, &p.Priority, &incl, &p.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Category = manifest.Category(category)
	p.MergeStrategy = manifest.Strategy(strategy)

	doc, err := manifest.ParseMapping([]byte(config))
	if err != nil {
		return nil, fmt.Errorf("profile %s: decode config: %w", p.ID, err)
	}
	p.Config = doc

	if err := json.Unmarshal([]byte(incl), &p.Includes); err != nil {
		return nil, fmt.Errorf("profile %s: decode includes: %w", p.ID, err)
	}
	if len(p.Includes) == 0 {
		p.Includes = nil
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

func scanComposite(row scanner) (*manifest.CompositeResource, error) {
	var (
		c                          manifest.CompositeResource
		kind, selection, overrides string
		createdAt, updatedAt       int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Namespace, &kind, &selection, &overrides,
		&c.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Kind = manifest.Kind(kind)

	if err := json.Unmarshal([]byte(selection), &c.SelectedProfileIDs); err != nil {
		return nil, fmt.Errorf("composite %s: decode selection: %w", c.ID, err)
	}
	if c.SelectedProfileIDs == nil {
		c.SelectedProfileIDs = map[manifest.Category][]string{}
	}

	doc, err := manifest.ParseMapping([]byte(overrides))
	if err != nil {
		return nil, fmt.Errorf("composite %s: decode overrides: %w", c.ID, err)
	}
	if len(doc) > 0 {
		c.Overrides = doc
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &c, nil
}

func getProfile(ctx context.Context, q querier, id string) (*manifest.Profile, error) {
	row := q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profileNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return p, nil
}

func getComposite(ctx context.Context, q querier, id string) (*manifest.CompositeResource, error) {
	row := q.QueryRowContext(ctx, `SELECT `+compositeColumns+` FROM composites WHERE id = ?`, id)
	c, err := scanComposite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, compositeNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get composite %s: %w", id, err)
	}
	return c, nil
}

// GetProfile implements Store.
func (s *SQLite) GetProfile(ctx context.Context, category manifest.Category, id string) (*manifest.Profile, error) {
	p, err := getProfile(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if category != "" && p.Category != category {
		return nil, profileNotFound(id)
	}
	return p, nil
}

// ListProfiles implements Store.
func (s *SQLite) ListProfiles(ctx context.Context, filter ProfileFilter) ([]*manifest.Profile, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, filter.Namespace)
	}
	query := `SELECT ` + profileColumns + ` FROM profiles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY namespace, category, name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := []*manifest.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutProfile implements Store.
func (s *SQLite) PutProfile(ctx context.Context, in *manifest.Profile) (*manifest.Profile, error) {
	return s.putProfile(ctx, in, false)
}

// CreateProfile implements Store.
func (s *SQLite) CreateProfile(ctx context.Context, in *manifest.Profile) (*manifest.Profile, error) {
	return s.putProfile(ctx, in, true)
}

func (s *SQLite) putProfile(ctx context.Context, in *manifest.Profile, create bool) (*manifest.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing *manifest.Profile
	if in.ID != "" {
		existing, err = getProfile(ctx, tx, in.ID)
		if err != nil && !errors.Is(err, manifest.ErrNotFound) {
			return nil, err
		}
	}

	p, err := prepareProfile(in, existing, s.now(), create)
	if err != nil {
		return nil, err
	}

	var other string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM profiles WHERE namespace = ? AND category = ? AND name = ? AND id <> ?`,
		p.Namespace, string(p.Category), p.Name, p.ID).Scan(&other)
	switch {
	case err == nil:
		return nil, nameTaken("profile", p.Name, p.Namespace+"/"+string(p.Category))
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check profile name: %w", err)
	}

	includeEdges, err := profileIncludeEdges(ctx, tx)
	if err != nil {
		return nil, err
	}
	var lookupErr error
	lookup := func(id string) (*manifest.Profile, bool) {
		found, err := getProfile(ctx, tx, id)
		if err != nil {
			if !errors.Is(err, manifest.ErrNotFound) {
				lookupErr = err
			}
			return nil, false
		}
		return found, true
	}
	if err := checkIncludes(p, lookup, func(id string) []string { return includeEdges[id] }); err != nil {
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, err
	}

	config, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	includes := p.Includes
	if includes == nil {
		includes = []string{}
	}
	incl, err := json.Marshal(includes)
	if err != nil {
		return nil, fmt.Errorf("encode includes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			namespace = excluded.namespace,
			description = excluded.description,
			config = excluded.config,
			merge_strategy = excluded.merge_strategy,
			priority = excluded.priority,
			includes = excluded.includes,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		p.ID, string(p.Category), p.Name, p.Namespace, p.Description, string(config),
		string(p.MergeStrategy), p.Priority, string(incl), p.Version,
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("write profile %s: %w", p.ID, err)
	}

	if err := replaceEdges(ctx, tx, p.ID, manifest.ConsumerProfile, p.Includes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// profileIncludeEdges loads every profile-to-profile edge keyed by includer.
func profileIncludeEdges(ctx context.Context, q querier) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT consumer_id, profile_id FROM dependency_edges WHERE consumer_kind = ? ORDER BY consumer_id, profile_id`,
		string(manifest.ConsumerProfile))
	if err != nil {
		return nil, fmt.Errorf("load include edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]string)
	for rows.Next() {
		var consumer, profile string
		if err := rows.Scan(&consumer, &profile); err != nil {
			return nil, err
		}
		edges[consumer] = append(edges[consumer], profile)
	}
	return edges, rows.Err()
}

func replaceEdges(ctx context.Context, q querier, consumerID string, kind manifest.ConsumerKind, profileIDs []string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM dependency_edges WHERE consumer_id = ? AND consumer_kind = ?`,
		consumerID, string(kind)); err != nil {
		return fmt.Errorf("remove edges of %s: %w", consumerID, err)
	}
	for _, pid := range profileIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO dependency_edges (profile_id, consumer_id, consumer_kind) VALUES (?, ?, ?)`,
			pid, consumerID, string(kind)); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", consumerID, pid, err)
		}
	}
	return nil
}

func consumersOf(ctx context.Context, q querier, profileID string) ([]manifest.ConsumerRef, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.consumer_id, e.consumer_kind, COALESCE(c.name, p.name, '')
		FROM dependency_edges e
		LEFT JOIN composites c ON e.consumer_kind = 'composite' AND c.id = e.consumer_id
		LEFT JOIN profiles p ON e.consumer_kind = 'profile' AND p.id = e.consumer_id
		WHERE e.profile_id = ?
		ORDER BY e.consumer_kind, e.consumer_id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("consumers of %s: %w", profileID, err)
	}
	defer rows.Close()

	refs := []manifest.ConsumerRef{}
	for rows.Next() {
		var ref manifest.ConsumerRef
		var kind string
		if err := rows.Scan(&ref.ID, &kind, &ref.Name); err != nil {
			return nil, err
		}
		ref.Kind = manifest.ConsumerKind(kind)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteProfile implements Store.
func (s *SQLite) DeleteProfile(ctx context.Context, category manifest.Category, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	p, err := getProfile(ctx, tx, id)
	if err != nil {
		return err
	}
	if category != "" && p.Category != category {
		return profileNotFound(id)
	}

	consumers, err := consumersOf(ctx, tx, id)
	if err != nil {
		return err
	}
	if len(consumers) > 0 {
		return &manifest.DependentsExistError{
			ResourceID:   p.ID,
			ResourceName: p.Name,
			ResourceType: p.Category,
			Dependents:   consumers,
		}
	}

	if err := replaceEdges(ctx, tx, id, manifest.ConsumerProfile, nil); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Snapshot implements Store.
func (s *SQLite) Snapshot(ctx context.Context, ids []string) (map[string]*manifest.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	out := make(map[string]*manifest.Profile, len(ids))
	requested := make(map[string]bool, len(ids))
	var pending []string
	for _, id := range ids {
		if !requested[id] {
			requested[id] = true
			pending = append(pending, id)
		}
	}

	for len(pending) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(pending)), ",")
		args := make([]any, len(pending))
		for i, id := range pending {
			args[i] = id
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}

		var next []string
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[p.ID] = p
			for _, inc := range p.Includes {
				if !requested[inc] {
					requested[inc] = true
					next = append(next, inc)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		pending = next
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// GetComposite implements Store.
func (s *SQLite) GetComposite(ctx context.Context, id string) (*manifest.CompositeResource, error) {
	return getComposite(ctx, s.db, id)
}

// ListComposites implements Store.
func (s *SQLite) ListComposites(ctx context.Context, filter CompositeFilter) ([]*manifest.CompositeResource, error) {
	query := `SELECT ` + compositeColumns + ` FROM composites`
	var args []any
	if filter.Namespace != "" {
		query += ` WHERE namespace = ?`
		args = append(args, filter.Namespace)
	}
	query += ` ORDER BY namespace, name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list composites: %w", err)
	}
	defer rows.Close()

	out := []*manifest.CompositeResource{}
	for rows.Next() {
		c, err := scanComposite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveComposite implements Store.
func (s *SQLite) SaveComposite(ctx context.Context, in *manifest.CompositeResource) (*manifest.CompositeResource, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing *manifest.CompositeResource
	if in.ID != "" {
		existing, err = getComposite(ctx, tx, in.ID)
		if err != nil && !errors.Is(err, manifest.ErrNotFound) {
			return nil, err
		}
	}

	c, err := prepareComposite(in, existing, s.now())
	if err != nil {
		return nil, err
	}

	var other string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM composites WHERE namespace = ? AND name = ? AND id <> ?`,
		c.Namespace, c.Name, c.ID).Scan(&other)
	switch {
	case err == nil:
		return nil, nameTaken("composite", c.Name, c.Namespace)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check composite name: %w", err)
	}

	var lookupErr error
	lookup := func(id string) (*manifest.Profile, bool) {
		p, err := getProfile(ctx, tx, id)
		if err != nil {
			if !errors.Is(err, manifest.ErrNotFound) {
				lookupErr = err
			}
			return nil, false
		}
		return p, true
	}
	err = checkSelection(c, lookup)
	if err == nil {
		err = checkVersions(in.ProfileVersions, lookup)
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	if err != nil {
		return nil, err
	}

	selection, err := json.Marshal(c.SelectedProfileIDs)
	if err != nil {
		return nil, fmt.Errorf("encode selection: %w", err)
	}
	overrides := []byte("{}")
	if len(c.Overrides) > 0 {
		if overrides, err = json.Marshal(c.Overrides); err != nil {
			return nil, fmt.Errorf("encode overrides: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO composites (`+compositeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			namespace = excluded.namespace,
			kind = excluded.kind,
			selection = excluded.selection,
			overrides = excluded.overrides,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Namespace, string(c.Kind), string(selection), string(overrides),
		c.Version, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("write composite %s: %w", c.ID, err)
	}

	if err := replaceEdges(ctx, tx, c.ID, manifest.ConsumerComposite, c.ProfileIDs()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// DeleteComposite implements Store.
func (s *SQLite) DeleteComposite(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM composites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete composite %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compositeNotFound(id)
	}
	if err := replaceEdges(ctx, tx, id, manifest.ConsumerComposite, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ConsumersOf implements Store.
func (s *SQLite) ConsumersOf(ctx context.Context, profileID string) ([]manifest.ConsumerRef, error) {
	return consumersOf(ctx, s.db, profileID)
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
