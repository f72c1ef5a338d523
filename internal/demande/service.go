package demande

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/notify"
	"github.com/servicecivique/attestation/internal/util"
)

// Store définit l'accès aux données requis par le service.
type Store interface {
	CreateDossier(ctx context.Context, d Demande, a Appele) (Dossier, error)
	GetDemande(ctx context.Context, id uuid.UUID) (Demande, error)
	GetDossier(ctx context.Context, id uuid.UUID) (Dossier, error)
	ListDemandes(ctx context.Context, statut *Statut, limit, offset int) ([]Demande, error)
	ListPieces(ctx context.Context, demandeID uuid.UUID) ([]PieceDossier, error)
	UpdateAppele(ctx context.Context, a Appele) error
	UpdatePiece(ctx context.Context, demandeID uuid.UUID, t TypePiece, presente bool, conforme *bool) error
	UpdateStatut(ctx context.Context, id uuid.UUID, from, to Statut, observations *string) error
	HasSignedAttestation(ctx context.Context, demandeID uuid.UUID) (bool, error)
	DeleteDemande(ctx context.Context, id uuid.UUID) error
}

type auditRecorder interface {
	Record(ctx context.Context, actor audit.Actor, action, targetType, targetID string)
}

// Service porte les règles métier du cycle de vie des demandes.
type Service struct {
	store    Store
	audit    auditRecorder
	notifier notify.Dispatcher
}

func NewService(store Store, auditSvc auditRecorder, notifier notify.Dispatcher) *Service {
	return &Service{store: store, audit: auditSvc, notifier: notifier}
}

// CreateInput rassemble les données d'enregistrement d'une demande.
type CreateInput struct {
	Nom             string
	Prenom          string
	DateNaissance   time.Time
	LieuNaissance   string
	Diplome         string
	Promotion       string
	Structure       string
	DebutService    time.Time
	FinService      *time.Time
	ReferenceArrete *string
	Email           *string
	Observations    *string
}

// Create enregistre une demande et son appelé atomiquement. Le numéro
// d'enregistrement est unique et immuable dès la création.
func (s *Service) Create(ctx context.Context, input CreateInput) (Dossier, error) {
	if err := util.RequireString(input.Nom, "nom"); err != nil {
		return Dossier{}, err
	}
	if err := util.RequireString(input.Prenom, "prénom"); err != nil {
		return Dossier{}, err
	}
	if input.DateNaissance.IsZero() {
		return Dossier{}, fmt.Errorf("date de naissance obligatoire")
	}
	if input.DebutService.IsZero() {
		return Dossier{}, fmt.Errorf("date de début de service obligatoire")
	}
	if input.Email != nil {
		if err := util.ValidateEmail(*input.Email); err != nil {
			return Dossier{}, err
		}
	}

	numero, err := nouveauNumero()
	if err != nil {
		return Dossier{}, err
	}

	d := Demande{
		ID:                 uuid.New(),
		Numero:             numero,
		DateEnregistrement: time.Now().UTC(),
		Statut:             StatutEnregistree,
		Observations:       input.Observations,
	}
	a := Appele{
		ID:              uuid.New(),
		Nom:             strings.ToUpper(strings.TrimSpace(input.Nom)),
		Prenom:          strings.TrimSpace(input.Prenom),
		DateNaissance:   input.DateNaissance,
		LieuNaissance:   strings.TrimSpace(input.LieuNaissance),
		Diplome:         strings.TrimSpace(input.Diplome),
		Promotion:       strings.TrimSpace(input.Promotion),
		Structure:       strings.TrimSpace(input.Structure),
		DebutService:    input.DebutService,
		FinService:      input.FinService,
		ReferenceArrete: input.ReferenceArrete,
		Email:           input.Email,
	}

	return s.store.CreateDossier(ctx, d, a)
}

// Get charge un dossier complet.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Dossier, error) {
	return s.store.GetDossier(ctx, id)
}

// List retourne les demandes filtrées par statut.
func (s *Service) List(ctx context.Context, statut *Statut, limit, offset int) ([]Demande, error) {
	return s.store.ListDemandes(ctx, statut, limit, offset)
}

// StartReview fait passer la demande en traitement.
func (s *Service) StartReview(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatutEnTraitement, nil)
}

// UpdateAppele modifie les données de l'appelé tant que le statut le permet.
func (s *Service) UpdateAppele(ctx context.Context, demandeID uuid.UUID, a Appele) error {
	d, err := s.store.GetDemande(ctx, demandeID)
	if err != nil {
		return err
	}
	if !Editable(d.Statut) {
		return ErrNotEditable
	}
	a.DemandeID = demandeID
	return s.store.UpdateAppele(ctx, a)
}

// UpdatePiece enregistre l'examen d'une pièce par un agent instructeur.
func (s *Service) UpdatePiece(ctx context.Context, demandeID uuid.UUID, t TypePiece, presente bool, conforme *bool) error {
	d, err := s.store.GetDemande(ctx, demandeID)
	if err != nil {
		return err
	}
	if !Editable(d.Statut) {
		return ErrNotEditable
	}
	return s.store.UpdatePiece(ctx, demandeID, t, presente, conforme)
}

// FlagPiecesNonConformes signale un dossier incomplet à l'appelé.
func (s *Service) FlagPiecesNonConformes(ctx context.Context, id uuid.UUID, observations *string) error {
	return s.transition(ctx, id, StatutPiecesNonConformes, observations)
}

// ResumeReview ramène un dossier corrigé en traitement.
func (s *Service) ResumeReview(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatutEnTraitement, nil)
}

// Validate valide la demande après contrôle d'exhaustivité du dossier.
func (s *Service) Validate(ctx context.Context, id uuid.UUID, actor audit.Actor) error {
	d, err := s.store.GetDemande(ctx, id)
	if err != nil {
		return err
	}
	if !Reviewable(d.Statut) {
		return IllegalTransitionError{From: d.Statut, To: StatutValidee}
	}

	pieces, err := s.store.ListPieces(ctx, id)
	if err != nil {
		return err
	}
	if !DossierComplet(pieces) {
		return ErrPiecesIncompletes
	}

	if err := s.store.UpdateStatut(ctx, id, d.Statut, StatutValidee, nil); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, audit.ActionValidation, "demande", id.String())
	return nil
}

// Reject rejette définitivement la demande. L'appelé est prévenu par
// notification quand il a laissé un e-mail ; l'échec d'envoi ne remet
// jamais en cause le rejet.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, motif *string, actor audit.Actor) error {
	dossier, err := s.store.GetDossier(ctx, id)
	if err != nil {
		return err
	}
	if !Reviewable(dossier.Demande.Statut) {
		return IllegalTransitionError{From: dossier.Demande.Statut, To: StatutRejetee}
	}
	if err := s.store.UpdateStatut(ctx, id, dossier.Demande.Statut, StatutRejetee, motif); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, audit.ActionRejet, "demande", id.String())

	if dossier.Appele.Email != nil {
		vars := map[string]string{"numero": dossier.Demande.Numero, "motif": ""}
		if motif != nil {
			vars["motif"] = *motif
		}
		if err := s.notifier.Dispatch(ctx, *dossier.Appele.Email, notify.TemplateDemandeRejetee, vars); err != nil {
			log.Warn().Err(err).Str("demande", id.String()).Msg("demande: notification de rejet non envoyée")
		}
	}
	return nil
}

// Delete supprime une demande. Refusé dès qu'une attestation signée existe.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	signed, err := s.store.HasSignedAttestation(ctx, id)
	if err != nil {
		return err
	}
	if signed {
		return ErrAttestationSignee
	}
	return s.store.DeleteDemande(ctx, id)
}

// transition applique un changement de statut après contrôle de la machine
// à états.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Statut, observations *string) error {
	d, err := s.store.GetDemande(ctx, id)
	if err != nil {
		return err
	}
	if err := Transition(d.Statut, to); err != nil {
		return err
	}
	if err := s.store.UpdateStatut(ctx, id, d.Statut, to, observations); err != nil {
		if err == ErrNotFound {
			// Le statut a changé entre la lecture et l'écriture : un autre
			// agent est passé avant. On relit pour rapporter l'état réel.
			if cur, gerr := s.store.GetDemande(ctx, id); gerr == nil {
				return IllegalTransitionError{From: cur.Statut, To: to}
			}
		}
		return err
	}
	return nil
}

// nouveauNumero forge un numéro d'enregistrement unique, de la forme
// SC-YYYY-XXXXXXXX.
func nouveauNumero() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	numero := fmt.Sprintf("SC-%d-%s", time.Now().UTC().Year(), strings.ToUpper(hex.EncodeToString(buf)))
	log.Debug().Str("numero", numero).Msg("demande: numéro d'enregistrement alloué")
	return numero, nil
}
