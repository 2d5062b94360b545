// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package store

import (
	"embed"
	"errors"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx/v5 driver for golang-migrate, registered as pgx5://.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration error codes.
const (
	CodeMigrationInit    = "MIGRATION_INIT_FAILED"
	CodeMigrationUp      = "MIGRATION_UP_FAILED"
	CodeMigrationDown    = "MIGRATION_DOWN_FAILED"
	CodeMigrationSteps   = "MIGRATION_STEPS_FAILED"
	CodeMigrationVersion = "MIGRATION_VERSION_FAILED"
	CodeMigrationForce   = "MIGRATION_FORCE_FAILED"
	CodeMigrationClose   = "MIGRATION_CLOSE_FAILED"
	CodeInvalidVersion   = "INVALID_VERSION"
)

// migrateIface is the part of *migrate.Migrate the Migrator drives, so
// tests can run without a database.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded journal schema.
type Migrator struct {
	m migrateIface
}

// NewMigrator opens a migrator for databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme golang-migrate
// expects.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.In("store").Code(CodeMigrationInit).Wrapf(err, "open embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close()
		return nil, oops.In("store").Code(CodeMigrationInit).Wrapf(err, "initialize migrator")
	}
	return &Migrator{m: m}, nil
}

func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("store").Code(CodeMigrationUp).Wrap(err)
	}
	return nil
}

// Down reverts every migration, dropping the journal table.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("store").Code(CodeMigrationDown).Wrap(err)
	}
	return nil
}

// Steps migrates n steps up (n > 0) or down (n < 0).
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("store").Code(CodeMigrationSteps).With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the applied version, 0 when nothing is applied. dirty
// means a migration failed halfway and needs Force.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, oops.In("store").Code(CodeMigrationVersion).Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.In("store").Code(CodeInvalidVersion).Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.In("store").Code(CodeMigrationForce).With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.In("store").Code(CodeMigrationClose).Wrap(err)
	}
	return nil
}

// Migration is one embedded migration.
type Migration struct {
	Version uint
	Name    string
	Applied bool
}

// Status lists the embedded migrations and whether each is applied.
func (m *Migrator) Status() ([]Migration, bool, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return nil, false, err
	}
	all, err := Migrations()
	if err != nil {
		return nil, false, err
	}
	for i := range all {
		all[i].Applied = all[i].Version <= current
	}
	return all, dirty, nil
}

// Migrations lists the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "read embedded migrations")
	}

	var out []Migration
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return nil, oops.In("store").With("file", entry.Name()).Wrapf(err, "migration file name must start with a version number")
		}
		out = append(out, Migration{Version: uint(version), Name: name})
	}
	slices.SortFunc(out, func(a, b Migration) int { return int(a.Version) - int(b.Version) })
	return out, nil
}
