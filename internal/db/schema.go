package db

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applique le schéma au démarrage. Le fichier ne contient que des
// ordres idempotents (CREATE ... IF NOT EXISTS), sans versionnage : le
// schéma n'évolue que par ajouts.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
