// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"careportal/internal/db"
)

// ErrNoChange is returned by Up and Down when the schema is already at the target version.
var ErrNoChange = migrate.ErrNoChange

// Direction selects what Run does.
type Direction string

const (
	Up      Direction = "up"
	Down    Direction = "down"
	Version Direction = "version"
)

// ParseDirection validates a command-line direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Up, Down, Version:
		return d, nil
	}
	return "", fmt.Errorf("migrate: direction must be up, down or version, got %q", s)
}

// Status is the schema version reported after a run.
type Status struct {
	Version uint
	Dirty   bool
}

// Run applies migrations in the given direction against dsn. Down rolls back steps migrations,
// or all of them when steps <= 0. ErrNoChange is swallowed.
func Run(dsn string, dir Direction, steps int) (Status, error) {
	if dsn == "" {
		return Status{}, db.ErrEmptyDSN
	}
	if _, err := ParseDirection(string(dir)); err != nil {
		return Status{}, err
	}

	src, err := Source()
	if err != nil {
		return Status{}, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return Status{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Status{}, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("migrate: version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}

// Source returns the embedded migrations as a golang-migrate source driver.
func Source() (source.Driver, error) {
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	return src, nil
}
