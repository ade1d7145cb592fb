// Package store persists outstation configurations in a sqlite database.
// Each outstation is a set of typed attributes keyed by the outstation name.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/tree"

	_ "modernc.org/sqlite"
)

const createAttributesSQL = `
CREATE TABLE IF NOT EXISTS outstation_attributes (
    outstation TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (outstation, name)
);`

// Attributes are the persisted attributes of one outstation
type Attributes map[string]tree.Value

// Store is a sqlite backed attribute store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens or creates the database at path and ensures the schema
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createAttributesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	log.Info("Opened store %s", path)
	return &Store{db: db, logger: log}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the attributes of an outstation
func (s *Store) Save(ctx context.Context, outstation string, attrs Attributes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outstation_attributes WHERE outstation = ?`, outstation); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outstation_attributes(outstation, name, kind, value) VALUES(?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for name, v := range attrs {
		if _, err := stmt.ExecContext(ctx, outstation, name, v.Kind().String(), encode(v)); err != nil {
			tx.Rollback()
			return fmt.Errorf("save %s/%s: %w", outstation, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("Saved %d attributes of %s", len(attrs), outstation)
	return nil
}

// Delete removes an outstation
func (s *Store) Delete(ctx context.Context, outstation string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outstation_attributes WHERE outstation = ?`, outstation)
	if err != nil {
		return fmt.Errorf("delete %s: %w", outstation, err)
	}
	return nil
}

// Load returns every outstation. Rows that do not decode are skipped.
func (s *Store) Load(ctx context.Context) (map[string]Attributes, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outstation, name, kind, value FROM outstation_attributes ORDER BY outstation, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Attributes)
	for rows.Next() {
		var outstation, name, kind, value string
		if err := rows.Scan(&outstation, &name, &kind, &value); err != nil {
			return nil, err
		}
		v, err := decode(kind, value)
		if err != nil {
			s.logger.Warn("Skipping %s/%s: %v", outstation, name, err)
			continue
		}
		if out[outstation] == nil {
			out[outstation] = make(Attributes)
		}
		out[outstation][name] = v
	}
	return out, rows.Err()
}

func encode(v tree.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func decode(kind, value string) (tree.Value, error) {
	switch kind {
	case tree.KindBool.String():
		b, err := strconv.ParseBool(value)
		if err != nil {
			return tree.Null(), err
		}
		return tree.Bool(b), nil
	case tree.KindNumber.String():
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return tree.Null(), err
		}
		return tree.Number(n), nil
	case tree.KindString.String():
		return tree.String(value), nil
	case tree.KindNull.String():
		return tree.Null(), nil
	}
	return tree.Null(), fmt.Errorf("unknown kind %q", kind)
}
