package utilisateur

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicecivique/attestation/internal/db"
)

const dbTimeout = 3 * time.Second

// Repository persiste comptes, refresh tokens et codes de secours.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const colonnes = `id, email, nom, role, mot_de_passe_hash, pin_hash, methode_otp,
	totp_secret, actif, created_at, updated_at`

func scanUtilisateur(row pgx.Row) (Utilisateur, error) {
	var u Utilisateur
	err := row.Scan(&u.ID, &u.Email, &u.Nom, &u.Role, &u.MotDePasseHash, &u.PinHash,
		&u.MethodeOTP, &u.TotpSecret, &u.Actif, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Utilisateur{}, ErrNotFound
	}
	return u, err
}

// GetByEmail charge un compte par email, insensible à la casse.
func (r *Repository) GetByEmail(ctx context.Context, email string) (Utilisateur, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return scanUtilisateur(r.pool.QueryRow(ctx,
		`SELECT `+colonnes+` FROM utilisateurs WHERE lower(email) = lower($1)`, email))
}

// GetByID charge un compte par identifiant.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Utilisateur, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return scanUtilisateur(r.pool.QueryRow(ctx,
		`SELECT `+colonnes+` FROM utilisateurs WHERE id = $1`, id))
}

// Create insère un nouveau compte.
func (r *Repository) Create(ctx context.Context, u Utilisateur) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO utilisateurs (id, email, nom, role, mot_de_passe_hash, methode_otp, actif)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Nom, u.Role, u.MotDePasseHash, u.MethodeOTP, u.Actif)
	return err
}

// UpdatePin pose ou remplace le PIN de signature (haché).
func (r *Repository) UpdatePin(ctx context.Context, id uuid.UUID, pinHash string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE utilisateurs SET pin_hash = $2, updated_at = now() WHERE id = $1
	`, id, pinHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnableTOTP active la méthode TOTP et remplace les codes de secours dans la
// même transaction.
func (r *Repository) EnableTOTP(ctx context.Context, id uuid.UUID, secret string, codesHashes []string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE utilisateurs SET totp_secret = $2, methode_otp = $3, updated_at = now()
			WHERE id = $1
		`, id, secret, OTPTotp)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM codes_secours WHERE utilisateur_id = $1`, id); err != nil {
			return err
		}
		for _, h := range codesHashes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO codes_secours (id, utilisateur_id, code_hash)
				VALUES ($1, $2, $3)
			`, uuid.New(), id, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListBackupHashes retourne les hachés des codes de secours non consommés.
func (r *Repository) ListBackupHashes(ctx context.Context, id uuid.UUID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT code_hash FROM codes_secours
		WHERE utilisateur_id = $1 AND utilise_at IS NULL
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ConsumeBackupCode marque un code de secours comme utilisé. Usage unique :
// la clause utilise_at IS NULL rend la consommation idempotente.
func (r *Repository) ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE codes_secours SET utilise_at = now()
		WHERE utilisateur_id = $1 AND code_hash = $2 AND utilise_at IS NULL
	`, id, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertRefreshToken persiste un refresh token haché.
func (r *Repository) InsertRefreshToken(ctx context.Context, t TokenRefresh) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tokens_refresh (id, utilisateur_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.UserID, t.TokenHash, t.ExpiresAt)
	return err
}

// GetRefreshTokenByHash charge un refresh token actif.
func (r *Repository) GetRefreshTokenByHash(ctx context.Context, hash string) (TokenRefresh, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var t TokenRefresh
	err := r.pool.QueryRow(ctx, `
		SELECT id, utilisateur_id, token_hash, expires_at, revoked_at, created_at
		FROM tokens_refresh WHERE token_hash = $1
	`, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TokenRefresh{}, ErrRefreshInvalide
	}
	return t, err
}

// RevokeRefreshToken révoque un refresh token par haché.
func (r *Repository) RevokeRefreshToken(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		UPDATE tokens_refresh SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hash)
	return err
}
