package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Up aplica las migraciones pendientes del dialecto indicado ("postgres" o "sqlite").
// Abre su propia conexión: migrate.Close() cierra también la base de datos subyacente.
func Up(dialect, dsn string, log *zap.Logger) error {
	m, err := newMigrate(dialect, dsn)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn("⚠️ Error al cerrar migrate", zap.NamedError("source", srcErr), zap.NamedError("db", dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("✅ Esquema ya actualizado", zap.String("dialect", dialect))
			return nil
		}
		return fmt.Errorf("migrate up (%s): %w", dialect, err)
	}

	version, _, _ := m.Version()
	log.Info("✅ Migraciones aplicadas", zap.String("dialect", dialect), zap.Uint("version", version))
	return nil
}

func newMigrate(dialect, dsn string) (*migrate.Migrate, error) {
	url, err := databaseURL(dialect, dsn)
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", dialect, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("init migrate (%s): %w", dialect, err)
	}
	return m, nil
}

// databaseURL adapta el DSN de la aplicación al esquema que registra cada driver de migrate.
func databaseURL(dialect, dsn string) (string, error) {
	switch dialect {
	case "postgres":
		for _, prefix := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, prefix) {
				return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
			}
		}
		return "", fmt.Errorf("unsupported postgres DSN %q", dsn)
	case "sqlite":
		// Los parámetros de conexión (_txlock, _pragma) no aplican al migrador.
		path, _, _ := strings.Cut(dsn, "?")
		path = strings.TrimPrefix(path, "file:")
		return "sqlite://" + path, nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}
