package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicecivique/attestation/internal/db"
)

const dbTimeout = 3 * time.Second

// Repository persiste les modèles. Les champs et boîtes sont stockés en
// JSONB mais toujours relus dans le type structuré puis validés.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type templateBlob struct {
	Fields       []Field `json:"fields"`
	SignatureBox Box     `json:"signature_box"`
	QRBox        QRBox   `json:"qr_box"`
}

// Create insère un nouveau modèle, inactif par défaut.
func (r *Repository) Create(ctx context.Context, t Template) (Template, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	blob, err := json.Marshal(templateBlob{Fields: t.Fields, SignatureBox: t.SignatureBox, QRBox: t.QRBox})
	if err != nil {
		return Template{}, err
	}

	t.ID = uuid.New()
	t.Actif = false
	t.SchemaVersion = SchemaVersion
	err = r.pool.QueryRow(ctx, `
		INSERT INTO modeles (id, nom, actif, schema_version, page_width, page_height,
			orientation, background_key, definition, created_at, updated_at)
		VALUES ($1, $2, false, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`, t.ID, t.Nom, t.SchemaVersion, t.PageWidth, t.PageHeight, t.Orientation,
		t.BackgroundKey, blob).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	return t, nil
}

// Update remplace la définition d'un modèle existant.
func (r *Repository) Update(ctx context.Context, t Template) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	blob, err := json.Marshal(templateBlob{Fields: t.Fields, SignatureBox: t.SignatureBox, QRBox: t.QRBox})
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE modeles SET nom=$2, page_width=$3, page_height=$4, orientation=$5,
			background_key=$6, definition=$7, updated_at=now()
		WHERE id = $1
	`, t.ID, t.Nom, t.PageWidth, t.PageHeight, t.Orientation, t.BackgroundKey, blob)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Activate rend le modèle actif et désactive les autres dans la même
// transaction : l'invariant "au plus un actif" tient même sous concurrence.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE modeles SET actif = false WHERE actif`); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE modeles SET actif = true, updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Get charge un modèle par identifiant.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Template, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

// GetActive charge le modèle actif. ErrNoActiveTemplate sinon.
func (r *Repository) GetActive(ctx context.Context) (Template, error) {
	t, err := r.getWhere(ctx, `actif = $1`, true)
	if errors.Is(err, ErrNotFound) {
		return Template{}, ErrNoActiveTemplate
	}
	return t, err
}

func (r *Repository) getWhere(ctx context.Context, where string, arg any) (Template, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var t Template
	var blob []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, nom, actif, schema_version, page_width, page_height,
			orientation, background_key, definition, created_at, updated_at
		FROM modeles WHERE `+where, arg).
		Scan(&t.ID, &t.Nom, &t.Actif, &t.SchemaVersion, &t.PageWidth, &t.PageHeight,
			&t.Orientation, &t.BackgroundKey, &blob, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, err
	}

	var def templateBlob
	if err := json.Unmarshal(blob, &def); err != nil {
		return Template{}, err
	}
	t.Fields = def.Fields
	t.SignatureBox = def.SignatureBox
	t.QRBox = def.QRBox
	return t, nil
}

// List retourne tous les modèles, actif en tête.
func (r *Repository) List(ctx context.Context) ([]Template, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, nom, actif, schema_version, page_width, page_height,
			orientation, background_key, definition, created_at, updated_at
		FROM modeles ORDER BY actif DESC, updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Template
	for rows.Next() {
		var t Template
		var blob []byte
		if err := rows.Scan(&t.ID, &t.Nom, &t.Actif, &t.SchemaVersion, &t.PageWidth, &t.PageHeight,
			&t.Orientation, &t.BackgroundKey, &blob, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		var def templateBlob
		if err := json.Unmarshal(blob, &def); err != nil {
			return nil, err
		}
		t.Fields = def.Fields
		t.SignatureBox = def.SignatureBox
		t.QRBox = def.QRBox
		list = append(list, t)
	}
	return list, rows.Err()
}
