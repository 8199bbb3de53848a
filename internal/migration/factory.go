package migration

import (
	"fmt"

	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/database"
)

// NewMigratorFromConfig opens a dedicated connection from the database
// section of the application config and wraps it in a migrator.
func NewMigratorFromConfig(cfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigratorFromDSN(dbType, cfg.DSN())
}

// NewMigratorFromDSN opens dsn with the driver matching dbType.
func NewMigratorFromDSN(dbType DatabaseType, dsn string) (*DefaultMigrator, error) {
	gdb, err := database.Open(string(dbType), dsn)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	m, err := NewMigrator(sqlDB, dbType, DefaultTableName)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}
