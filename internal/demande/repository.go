package demande

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

// Repository fournit l'accès aux données des demandes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateDossier insère la demande, l'appelé et la check-list initiale dans
// une même transaction.
func (r *Repository) CreateDossier(ctx context.Context, d Demande, a Appele) (Dossier, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var dossier Dossier
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO demandes (id, numero, date_enregistrement, statut, observations)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, numero, date_enregistrement, statut, observations
		`, d.ID, d.Numero, d.DateEnregistrement, d.Statut, d.Observations).
			Scan(&dossier.Demande.ID, &dossier.Demande.Numero, &dossier.Demande.DateEnregistrement,
				&dossier.Demande.Statut, &dossier.Demande.Observations)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO appeles (id, demande_id, nom, prenom, date_naissance, lieu_naissance,
				diplome, promotion, structure, debut_service, fin_service, reference_arrete, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id
		`, a.ID, d.ID, a.Nom, a.Prenom, a.DateNaissance, a.LieuNaissance,
			a.Diplome, a.Promotion, a.Structure, a.DebutService, a.FinService, a.ReferenceArrete, a.Email).
			Scan(&a.ID)
		if err != nil {
			return err
		}
		a.DemandeID = d.ID
		dossier.Appele = a

		for _, t := range TypesPieces {
			p := PieceDossier{ID: uuid.New(), DemandeID: d.ID, Type: t}
			if _, err := tx.Exec(ctx, `
				INSERT INTO pieces_dossier (id, demande_id, type, presente, conforme)
				VALUES ($1, $2, $3, false, NULL)
			`, p.ID, p.DemandeID, p.Type); err != nil {
				return err
			}
			dossier.Pieces = append(dossier.Pieces, p)
		}
		return nil
	})
	if err != nil {
		return Dossier{}, err
	}
	return dossier, nil
}

// GetDemande charge une demande par identifiant.
func (r *Repository) GetDemande(ctx context.Context, id uuid.UUID) (Demande, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var d Demande
	err := r.pool.QueryRow(ctx, `
		SELECT id, numero, date_enregistrement, statut, date_validation,
			date_signature, date_delivrance, observations
		FROM demandes WHERE id = $1
	`, id).Scan(&d.ID, &d.Numero, &d.DateEnregistrement, &d.Statut,
		&d.DateValidation, &d.DateSignature, &d.DateDelivrance, &d.Observations)
	if errors.Is(err, pgx.ErrNoRows) {
		return Demande{}, ErrNotFound
	}
	return d, err
}

// GetDossier charge la demande avec appelé et pièces.
func (r *Repository) GetDossier(ctx context.Context, id uuid.UUID) (Dossier, error) {
	d, err := r.GetDemande(ctx, id)
	if err != nil {
		return Dossier{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var a Appele
	err = r.pool.QueryRow(ctx, `
		SELECT id, demande_id, nom, prenom, date_naissance, lieu_naissance,
			diplome, promotion, structure, debut_service, fin_service, reference_arrete, email
		FROM appeles WHERE demande_id = $1
	`, id).Scan(&a.ID, &a.DemandeID, &a.Nom, &a.Prenom, &a.DateNaissance, &a.LieuNaissance,
		&a.Diplome, &a.Promotion, &a.Structure, &a.DebutService, &a.FinService, &a.ReferenceArrete, &a.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dossier{}, ErrNotFound
		}
		return Dossier{}, err
	}

	pieces, err := r.ListPieces(ctx, id)
	if err != nil {
		return Dossier{}, err
	}

	return Dossier{Demande: d, Appele: a, Pieces: pieces}, nil
}

// ListDemandes retourne les demandes filtrées par statut, paginées.
func (r *Repository) ListDemandes(ctx context.Context, statut *Statut, limit, offset int) ([]Demande, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, numero, date_enregistrement, statut, date_validation,
			date_signature, date_delivrance, observations
		FROM demandes
		WHERE ($1::text IS NULL OR statut = $1)
		ORDER BY date_enregistrement DESC
		LIMIT $2 OFFSET $3
	`, statut, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Demande
	for rows.Next() {
		var d Demande
		if err := rows.Scan(&d.ID, &d.Numero, &d.DateEnregistrement, &d.Statut,
			&d.DateValidation, &d.DateSignature, &d.DateDelivrance, &d.Observations); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// ListPieces retourne la check-list d'une demande.
func (r *Repository) ListPieces(ctx context.Context, demandeID uuid.UUID) ([]PieceDossier, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, demande_id, type, presente, conforme
		FROM pieces_dossier WHERE demande_id = $1 ORDER BY type
	`, demandeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pieces []PieceDossier
	for rows.Next() {
		var p PieceDossier
		if err := rows.Scan(&p.ID, &p.DemandeID, &p.Type, &p.Presente, &p.Conforme); err != nil {
			return nil, err
		}
		pieces = append(pieces, p)
	}
	return pieces, rows.Err()
}

// UpdateAppele met à jour les données de l'appelé.
func (r *Repository) UpdateAppele(ctx context.Context, a Appele) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE appeles SET nom=$2, prenom=$3, date_naissance=$4, lieu_naissance=$5,
			diplome=$6, promotion=$7, structure=$8, debut_service=$9, fin_service=$10,
			reference_arrete=$11, email=$12
		WHERE demande_id = $1
	`, a.DemandeID, a.Nom, a.Prenom, a.DateNaissance, a.LieuNaissance,
		a.Diplome, a.Promotion, a.Structure, a.DebutService, a.FinService, a.ReferenceArrete, a.Email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePiece enregistre l'examen d'une pièce par un agent.
func (r *Repository) UpdatePiece(ctx context.Context, demandeID uuid.UUID, t TypePiece, presente bool, conforme *bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE pieces_dossier SET presente=$3, conforme=$4
		WHERE demande_id = $1 AND type = $2
	`, demandeID, t, presente, conforme)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatut applique un nouveau statut avec garde optimiste sur le
// statut attendu, pour éviter les mises à jour perdues entre agents.
func (r *Repository) UpdateStatut(ctx context.Context, id uuid.UUID, from, to Statut, observations *string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE demandes SET statut=$3,
			observations = COALESCE($4, observations),
			date_validation = CASE WHEN $3 = 'VALIDEE' AND date_validation IS NULL THEN now() ELSE date_validation END,
			date_signature  = CASE WHEN $3 = 'SIGNEE' THEN now() ELSE date_signature END,
			date_delivrance = CASE WHEN $3 = 'DELIVREE' THEN now() ELSE date_delivrance END
		WHERE id = $1 AND statut = $2
	`, id, from, to, observations)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasSignedAttestation indique si la demande porte une attestation signée.
func (r *Repository) HasSignedAttestation(ctx context.Context, demandeID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM attestations
			WHERE demande_id = $1 AND statut IN ('SIGNEE', 'DELIVREE')
		)
	`, demandeID).Scan(&exists)
	return exists, err
}

// DeleteDemande supprime définitivement une demande et ses dépendances.
// Une attestation non signée encore attachée est écartée avec la demande ;
// le service a déjà refusé la suppression quand une attestation signée
// existe.
func (r *Repository) DeleteDemande(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM attestations WHERE demande_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pieces_dossier WHERE demande_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM appeles WHERE demande_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM demandes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
