package attestation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicecivique/attestation/internal/db"
	"github.com/servicecivique/attestation/internal/demande"
)

const (
	dbTimeout  = 3 * time.Second
	txAttempts = 3
)

// Repository persiste les attestations et le compteur annuel de numérotation.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateNumbered exécute la séquence critique de génération dans UNE
// transaction : incrément atomique du compteur annuel, construction de
// l'attestation via le callback (rendu PDF compris), insertion de la ligne
// et passage de la demande en attente de signature. Tout échec du callback
// ou de l'insertion annule aussi l'allocation du numéro. Relancée de façon
// bornée sur conflit de sérialisation.
func (r *Repository) CreateNumbered(ctx context.Context, demandeID uuid.UUID, annee int,
	build func(ctx context.Context, numero string) (Attestation, error)) (Attestation, error) {

	var result Attestation
	err := db.WithTxRetry(ctx, r.pool, txAttempts, func(ctx context.Context, tx pgx.Tx) error {
		// Jamais de "select max+1" : l'upsert incrémente sous verrou de ligne.
		var seq int
		err := tx.QueryRow(ctx, `
			INSERT INTO compteurs_attestation (annee, dernier)
			VALUES ($1, 1)
			ON CONFLICT (annee) DO UPDATE SET dernier = compteurs_attestation.dernier + 1
			RETURNING dernier
		`, annee).Scan(&seq)
		if err != nil {
			return err
		}

		numero := fmt.Sprintf("ATT-%d-%05d", annee, seq)

		att, err := build(ctx, numero)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO attestations (id, demande_id, numero, date_generation, pdf_key,
				qr_payload, statut)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, att.ID, att.DemandeID, att.Numero, att.DateGeneration, att.PDFKey,
			att.QRPayload, att.Statut)
		if err != nil {
			// Deux générations simultanées sur la même demande : le perdant
			// heurte l'unicité de demande_id après avoir passé le contrôle
			// d'idempotence du service.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
				strings.Contains(pgErr.ConstraintName, "demande_id") {
				return ErrAlreadyIssued
			}
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE demandes SET statut = $2 WHERE id = $1 AND statut = $3
		`, demandeID, demande.StatutEnAttenteSignature, demande.StatutValidee)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidState
		}

		result = att
		return nil
	})
	if err != nil {
		return Attestation{}, err
	}
	return result, nil
}

// Get charge une attestation par identifiant.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Attestation, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

// GetByDemande charge l'attestation d'une demande.
func (r *Repository) GetByDemande(ctx context.Context, demandeID uuid.UUID) (Attestation, error) {
	return r.getWhere(ctx, `demande_id = $1`, demandeID)
}

// GetByNumero charge une attestation par son numéro public.
func (r *Repository) GetByNumero(ctx context.Context, numero string) (Attestation, error) {
	return r.getWhere(ctx, `numero = $1`, numero)
}

func (r *Repository) getWhere(ctx context.Context, where string, arg any) (Attestation, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var a Attestation
	err := r.pool.QueryRow(ctx, `
		SELECT id, demande_id, numero, date_generation, pdf_key, qr_payload, statut,
			date_signature, type_signature, signataire_id, signature_image_key
		FROM attestations WHERE `+where, arg).
		Scan(&a.ID, &a.DemandeID, &a.Numero, &a.DateGeneration, &a.PDFKey, &a.QRPayload,
			&a.Statut, &a.DateSignature, &a.TypeSignature, &a.SignataireID, &a.SignatureImageKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attestation{}, ErrNotFound
	}
	return a, err
}

// ApplySignature pose les champs de signature et fait basculer attestation
// et demande en SIGNEE dans la même transaction. La ligne est mutée en
// place, jamais remplacée.
func (r *Repository) ApplySignature(ctx context.Context, a Attestation) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE attestations SET statut = $2, date_signature = $3, type_signature = $4,
				signataire_id = $5, signature_image_key = $6, qr_payload = $7, pdf_key = $8
			WHERE id = $1 AND statut = $9
		`, a.ID, StatutSignee, a.DateSignature, a.TypeSignature, a.SignataireID,
			a.SignatureImageKey, a.QRPayload, a.PDFKey, StatutEnAttenteSignature)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotSignable
		}

		_, err = tx.Exec(ctx, `
			UPDATE demandes SET statut = $2, date_signature = now()
			WHERE id = $1 AND statut = $3
		`, a.DemandeID, demande.StatutSignee, demande.StatutEnAttenteSignature)
		return err
	})
}

// MarkDelivered acte la remise de l'attestation à l'appelé.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var demandeID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE attestations SET statut = $2 WHERE id = $1 AND statut = $3
			RETURNING demande_id
		`, id, StatutDelivree, StatutSignee).Scan(&demandeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE demandes SET statut = $2, date_delivrance = now()
			WHERE id = $1 AND statut = $3
		`, demandeID, demande.StatutDelivree, demande.StatutSignee)
		return err
	})
}

// DeleteAndRevert supprime l'attestation (annulation administrative) et
// ramène la demande en VALIDEE. L'ancien numéro n'est jamais réutilisé :
// le compteur n'est pas décrémenté.
func (r *Repository) DeleteAndRevert(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var demandeID uuid.UUID
		err := tx.QueryRow(ctx, `
			DELETE FROM attestations WHERE id = $1 RETURNING demande_id
		`, id).Scan(&demandeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE demandes SET statut = $2 WHERE id = $1`,
			demandeID, demande.StatutValidee)
		return err
	})
}

// DiscardUnsigned supprime une attestation non signée lors d'un renvoi à
// l'instruction, et ramène la demande en traitement.
func (r *Repository) DiscardUnsigned(ctx context.Context, demandeID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM attestations WHERE demande_id = $1 AND statut = $2
		`, demandeID, StatutEnAttenteSignature); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE demandes SET statut = $2 WHERE id = $1 AND statut = $3
		`, demandeID, demande.StatutEnTraitement, demande.StatutEnAttenteSignature)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
