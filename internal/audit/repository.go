package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 3 * time.Second

// Repository écrit et relit le journal d'audit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert ajoute une entrée. Aucune mise à jour ni suppression n'existe :
// le journal est en append-only.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO journal_audit (id, actor_id, action, target_type, target_id, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ActorID, e.Action, e.TargetType, e.TargetID, e.IP, e.UserAgent, e.CreatedAt)
	return err
}

// List retourne les entrées les plus récentes, paginées.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, target_type, target_id, ip, user_agent, created_at
		FROM journal_audit ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID,
			&e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
