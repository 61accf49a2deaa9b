// Package sqlstore provides the relational backend over database/sql.
// Works with both SQLite and PostgreSQL drivers; every statement is built
// from entity metadata, never from object types.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/open-mediary/mediary/internal/domain"
)

// Store implements domain.SQLStore plus the version and trash stores.
type Store struct {
	db     *sql.DB
	driver string
}

// New creates a store based on configuration and bootstraps the snapshot
// tables.
func New(cfg domain.SQLConfig) (*Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &Store{db: db, driver: cfg.Driver}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	for _, schema := range snapshotSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// EnsureEntity creates the origin, extended-property and link tables for a
// registered entity. Called once per entity at startup.
func (s *Store) EnsureEntity(ctx context.Context, def *domain.EntityDefinition) error {
	pk := def.Attribute(def.PrimaryKey)

	cols := make([]string, 0, len(def.Attributes))
	for i := range def.Attributes {
		attr := &def.Attributes[i]
		col := attr.Column() + " " + columnDDL(attr)
		if attr.Name == pk.Name {
			col += " PRIMARY KEY"
		}
		cols = append(cols, col)
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + def.Table + " (" + strings.Join(cols, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("entity %s: %w", def.Type, err)
	}

	if ext := extendedColumns(def); len(ext) > 0 {
		extCols := []string{"object_id TEXT NOT NULL", "business_entity_id TEXT NOT NULL"}
		for _, p := range ext {
			extCols = append(extCols, p.Column()+" "+extendedColumnDDL(p.Kind))
		}
		extCols = append(extCols, "PRIMARY KEY (object_id, business_entity_id)")
		ddl = "CREATE TABLE IF NOT EXISTS " + def.ExtendedTable() + " (" + strings.Join(extCols, ", ") + ")"
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("entity %s extended table: %w", def.Type, err)
		}
	}

	if def.Parent != nil && def.Parent.LinkTable != "" {
		ddl = "CREATE TABLE IF NOT EXISTS " + def.Parent.LinkTable + " (" +
			def.Parent.LinkColumn + " TEXT NOT NULL, " +
			def.Parent.LinkChildColumn + " TEXT NOT NULL, " +
			"PRIMARY KEY (" + def.Parent.LinkColumn + ", " + def.Parent.LinkChildColumn + "))"
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("entity %s link table: %w", def.Type, err)
		}
	}

	return nil
}

// Insert stores a new record.
func (s *Store) Insert(ctx context.Context, def *domain.EntityDefinition, rec domain.Record) error {
	cols := make([]string, 0, len(def.Attributes))
	args := make([]any, 0, len(def.Attributes))
	for i := range def.Attributes {
		attr := &def.Attributes[i]
		cols = append(cols, attr.Column())
		args = append(args, writeValue(attr, rec))
	}

	query := "INSERT INTO " + def.Table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: %s %q", domain.ErrDuplicateKey, def.Type, def.Identity(rec))
	}
	return err
}

// Get retrieves one record by identity, or ErrNotFound.
func (s *Store) Get(ctx context.Context, def *domain.EntityDefinition, id string) (domain.Record, error) {
	p := s.buildSelect(def, nil, "")
	pk := def.Attribute(def.PrimaryKey).Column()
	query := "SELECT " + p.columns + " FROM " + p.from + " WHERE Origin." + pk + " = ?"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotFound
	}
	return s.scanRecord(rows, def)
}

// GetMany retrieves records for the given identities in one batched call.
// Absent identities are skipped, not errors.
func (s *Store) GetMany(ctx context.Context, def *domain.EntityDefinition, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	p := s.buildSelect(def, nil, "")
	pk := def.Attribute(def.PrimaryKey).Column()
	query := "SELECT " + p.columns + " FROM " + p.from + " WHERE Origin." + pk + " IN (" + placeholders(len(ids)) + ")"

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRecords(rows, def)
}

// Exists reports whether a record with the identity is stored.
func (s *Store) Exists(ctx context.Context, def *domain.EntityDefinition, id string) (bool, error) {
	pk := def.Attribute(def.PrimaryKey).Column()
	query := "SELECT 1 FROM " + def.Table + " WHERE " + pk + " = ? LIMIT 1"

	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Replace writes the full record.
func (s *Store) Replace(ctx context.Context, def *domain.EntityDefinition, id string, rec domain.Record) error {
	pk := def.Attribute(def.PrimaryKey)

	sets := make([]string, 0, len(def.Attributes))
	args := make([]any, 0, len(def.Attributes)+1)
	for i := range def.Attributes {
		attr := &def.Attributes[i]
		if attr.Name == pk.Name {
			continue
		}
		sets = append(sets, attr.Column()+" = ?")
		args = append(args, writeValue(attr, rec))
	}
	args = append(args, id)

	query := "UPDATE " + def.Table + " SET " + strings.Join(sets, ", ") + " WHERE " + pk.Column() + " = ?"
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// Update sends only the given attribute values to the backend.
func (s *Store) Update(ctx context.Context, def *domain.EntityDefinition, id string, values domain.Record) error {
	pk := def.Attribute(def.PrimaryKey)

	var sets []string
	var args []any
	for name := range values {
		attr := def.Attribute(name)
		if attr == nil || attr.Name == pk.Name {
			continue
		}
		sets = append(sets, attr.Column()+" = ?")
		args = append(args, writeValue(attr, values))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := "UPDATE " + def.Table + " SET " + strings.Join(sets, ", ") + " WHERE " + pk.Column() + " = ?"
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// Delete removes a record and its extended-property rows. Deleting an
// absentee is not an error.
func (s *Store) Delete(ctx context.Context, def *domain.EntityDefinition, id string) error {
	if len(extendedColumns(def)) > 0 {
		query := "DELETE FROM " + def.ExtendedTable() + " WHERE object_id = ?"
		if _, err := s.db.ExecContext(ctx, s.rebind(query), id); err != nil {
			return err
		}
	}

	pk := def.Attribute(def.PrimaryKey).Column()
	query := "DELETE FROM " + def.Table + " WHERE " + pk + " = ?"
	_, err := s.db.ExecContext(ctx, s.rebind(query), id)
	return err
}

// UpsertExtended writes one business entity's extended property values for
// an object into the side table.
func (s *Store) UpsertExtended(ctx context.Context, def *domain.EntityDefinition, objectID, businessEntityID string, values domain.Record) error {
	props := def.ExtendedProperties[businessEntityID]
	if len(props) == 0 {
		return nil
	}

	cols := []string{"object_id", "business_entity_id"}
	args := []any{objectID, businessEntityID}
	var updates []string
	for i := range props {
		cols = append(cols, props[i].Column())
		v, ok := values.Get(props[i].Name)
		if !ok {
			v = nil
		}
		args = append(args, writeScalar(v))
		updates = append(updates, props[i].Column()+" = excluded."+props[i].Column())
	}

	query := "INSERT INTO " + def.ExtendedTable() + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")" +
		" ON CONFLICT(object_id, business_entity_id) DO UPDATE SET " + strings.Join(updates, ", ")
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// GetExtended reads one business entity's extended property values for an
// object from the side table. A missing row yields an empty record.
func (s *Store) GetExtended(ctx context.Context, def *domain.EntityDefinition, objectID, businessEntityID string) (domain.Record, error) {
	props := def.ExtendedProperties[businessEntityID]
	if len(props) == 0 {
		return domain.Record{}, nil
	}

	cols := make([]string, 0, len(props))
	for i := range props {
		cols = append(cols, props[i].Column())
	}
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + def.ExtendedTable() +
		" WHERE object_id = ? AND business_entity_id = ?"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), objectID, businessEntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(domain.Record, len(props))
	if !rows.Next() {
		return out, rows.Err()
	}

	dest := make([]any, len(props))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	for i := range props {
		raw := *(dest[i].(*any))
		if raw == nil {
			continue
		}
		if b, ok := raw.([]byte); ok {
			raw = string(b)
		}
		out[props[i].Name] = raw
	}
	return out, rows.Err()
}

// DeleteWhere removes every record matching the predicate. The predicate is
// applied through a subquery so aliases and joins stay usable.
func (s *Store) DeleteWhere(ctx context.Context, def *domain.EntityDefinition, pred *domain.SQLPredicate) (int64, error) {
	pk := def.Attribute(def.PrimaryKey).Column()

	var query string
	var args []any
	hasExtended := len(extendedColumns(def)) > 0
	if pred.Empty() {
		if hasExtended {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM "+def.ExtendedTable()); err != nil {
				return 0, err
			}
		}
		query = "DELETE FROM " + def.Table
	} else {
		p := s.buildSelect(def, pred, "")
		sub := "SELECT Origin." + pk + " FROM " + p.from + " WHERE " + p.where
		if hasExtended {
			extQuery := "DELETE FROM " + def.ExtendedTable() + " WHERE object_id IN (" + sub + ")"
			if _, err := s.db.ExecContext(ctx, s.rebind(extQuery), p.args...); err != nil {
				return 0, err
			}
		}
		query = "DELETE FROM " + def.Table + " WHERE " + pk + " IN (" + sub + ")"
		args = p.args
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Find returns records matching the predicate in order.
func (s *Store) Find(ctx context.Context, def *domain.EntityDefinition, pred *domain.SQLPredicate, order domain.SQLOrderBy, limit, offset int) ([]domain.Record, error) {
	p := s.buildSelect(def, pred, order)

	rows, err := s.db.QueryContext(ctx, s.rebind(p.query(limit, offset)), p.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRecords(rows, def)
}

// FindIDs returns matching identities in order.
func (s *Store) FindIDs(ctx context.Context, def *domain.EntityDefinition, pred *domain.SQLPredicate, order domain.SQLOrderBy, limit, offset int) ([]string, error) {
	p := s.buildSelect(def, pred, order)
	p.columns = "Origin." + def.Attribute(def.PrimaryKey).Column()

	rows, err := s.db.QueryContext(ctx, s.rebind(p.query(limit, offset)), p.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of matching records.
func (s *Store) Count(ctx context.Context, def *domain.EntityDefinition, pred *domain.SQLPredicate) (int64, error) {
	p := s.buildSelect(def, pred, "")
	pk := def.Attribute(def.PrimaryKey).Column()

	counter := "COUNT(*)"
	if p.distinct {
		counter = "COUNT(DISTINCT Origin." + pk + ")"
	}
	query := "SELECT " + counter + " FROM " + p.from
	if p.where != "" {
		query += " WHERE " + p.where
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, s.rebind(query), p.args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Search matches text across string attributes with LIKE, conjoined with
// the structural predicate.
func (s *Store) Search(ctx context.Context, def *domain.EntityDefinition, text string, pred *domain.SQLPredicate, order domain.SQLOrderBy, limit, offset int) ([]domain.Record, error) {
	p := s.buildSelect(def, pred, order)

	if text != "" {
		var likes []string
		var likeArgs []any
		needle := "%" + text + "%"
		for i := range def.Attributes {
			if def.Attributes[i].Type != domain.AttrString {
				continue
			}
			likes = append(likes, "Origin."+def.Attributes[i].Column()+" LIKE ?")
			likeArgs = append(likeArgs, needle)
		}
		if len(likes) > 0 {
			clause := "(" + strings.Join(likes, " OR ") + ")"
			if p.where != "" {
				p.where = clause + " AND (" + p.where + ")"
				p.args = append(likeArgs, p.args...)
			} else {
				p.where = clause
				p.args = likeArgs
			}
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(p.query(limit, offset)), p.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRecords(rows, def)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) scanRecord(rows *sql.Rows, def *domain.EntityDefinition) (domain.Record, error) {
	dest := make([]any, len(def.Attributes))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	rec := make(domain.Record, len(def.Attributes))
	for i := range def.Attributes {
		raw := *(dest[i].(*any))
		if raw == nil {
			continue
		}
		rec[def.Attributes[i].Name] = readValue(&def.Attributes[i], raw)
	}
	return rec, nil
}

func (s *Store) scanRecords(rows *sql.Rows, def *domain.EntityDefinition) ([]domain.Record, error) {
	var out []domain.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows, def)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func requireRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key")
}
