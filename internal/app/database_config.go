package app

import (
	"github.com/loglane/loglane/internal/database"
)

// DatabaseOpenConfig converts the application settings into the database package representation.
func (c DatabaseConfig) DatabaseOpenConfig() database.Config {
	return database.Config{
		Driver:   c.Driver,
		Path:     c.Path,
		DSN:      c.DSN,
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		Name:     c.Postgres.Database,
		User:     c.Postgres.Username,
		Password: c.Postgres.Password,
	}
}
