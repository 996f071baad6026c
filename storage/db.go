package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB representa a conexão com o banco de dados PostgreSQL.
type DB struct {
	*sqlx.DB
}

// NewDB conecta-se ao PostgreSQL. As migrações ficam a cargo de Migrate.
func NewDB(dataSourceName string) (*DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao banco de dados: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao pingar o banco de dados: %w", err)
	}
	logger.Info("Conexão com PostgreSQL estabelecida com sucesso")

	return &DB{db}, nil
}

// Migrate aplica as migrações embutidas e retorna quantas foram executadas.
func Migrate(db *sql.DB) (int, error) {
	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}

	n, err := migrate.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("erro ao aplicar migrações: %w", err)
	}
	if n > 0 {
		logger.Info("Migrações aplicadas ao banco de dados", "count", n)
	} else {
		logger.Info("Nenhuma migração nova para aplicar")
	}
	return n, nil
}
