package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/demande"
	"github.com/servicecivique/attestation/internal/notify"
	"github.com/servicecivique/attestation/internal/pdf"
	"github.com/servicecivique/attestation/internal/qrsign"
	"github.com/servicecivique/attestation/internal/storage"
)

// Store définit la persistance requise par le service.
type Store interface {
	CreateNumbered(ctx context.Context, demandeID uuid.UUID, annee int,
		build func(ctx context.Context, numero string) (Attestation, error)) (Attestation, error)
	Get(ctx context.Context, id uuid.UUID) (Attestation, error)
	GetByDemande(ctx context.Context, demandeID uuid.UUID) (Attestation, error)
	GetByNumero(ctx context.Context, numero string) (Attestation, error)
	ApplySignature(ctx context.Context, a Attestation) error
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	DeleteAndRevert(ctx context.Context, id uuid.UUID) error
	DiscardUnsigned(ctx context.Context, demandeID uuid.UUID) error
}

// DossierStore charge les dossiers de demande.
type DossierStore interface {
	GetDossier(ctx context.Context, id uuid.UUID) (demande.Dossier, error)
}

// TemplateStore fournit le modèle actif.
type TemplateStore interface {
	GetActive(ctx context.Context) (pdf.Template, error)
}

// Renderer compose les PDF.
type Renderer interface {
	RenderUnsigned(ctx context.Context, tpl pdf.Template, values map[string]string) ([]byte, error)
	RenderSigned(ctx context.Context, tpl pdf.Template, values map[string]string, sig pdf.SignatureInput, qrPayload []byte) ([]byte, error)
}

type auditRecorder interface {
	Record(ctx context.Context, actor audit.Actor, action, targetType, targetID string)
}

// Service est le point d'entrée unique qui transforme une demande validée
// en attestation numérotée, puis signée.
type Service struct {
	store     Store
	dossiers  DossierStore
	templates TemplateStore
	renderer  Renderer
	blobs     storage.Store
	hmacKey   []byte
	audit     auditRecorder
	notifier  notify.Dispatcher

	// maxFreshness borne l'âge accepté de la preuve de fraîcheur sig/ts.
	maxFreshness time.Duration
}

func NewService(store Store, dossiers DossierStore, templates TemplateStore,
	renderer Renderer, blobs storage.Store, hmacKey []byte, auditSvc auditRecorder,
	notifier notify.Dispatcher) *Service {
	return &Service{
		store:        store,
		dossiers:     dossiers,
		templates:    templates,
		renderer:     renderer,
		blobs:        blobs,
		hmacKey:      hmacKey,
		audit:        auditSvc,
		notifier:     notifier,
		maxFreshness: 10 * time.Minute,
	}
}

// Generate émet l'attestation d'une demande validée. La numérotation, la
// ligne d'attestation et la transition de la demande partagent une seule
// transaction : aucun numéro ne survit à un échec de persistance.
func (s *Service) Generate(ctx context.Context, demandeID uuid.UUID, actor audit.Actor) (Attestation, error) {
	dossier, err := s.dossiers.GetDossier(ctx, demandeID)
	if err != nil {
		return Attestation{}, err
	}
	if dossier.Demande.Statut != demande.StatutValidee {
		return Attestation{}, ErrInvalidState
	}

	tpl, err := s.templates.GetActive(ctx)
	if err != nil {
		if errors.Is(err, pdf.ErrNoActiveTemplate) {
			return Attestation{}, pdf.ErrNoActiveTemplate
		}
		return Attestation{}, err
	}
	if err := tpl.Validate(); err != nil {
		return Attestation{}, pdf.ErrNoActiveTemplate
	}

	if _, err := s.store.GetByDemande(ctx, demandeID); err == nil {
		return Attestation{}, ErrAlreadyIssued
	} else if !errors.Is(err, ErrNotFound) {
		return Attestation{}, err
	}

	now := time.Now().UTC()
	annee := now.Year()

	att, err := s.store.CreateNumbered(ctx, demandeID, annee, func(ctx context.Context, numero string) (Attestation, error) {
		// La charge utile reste sans HMAC avant signature : un QR scanné à
		// ce stade doit toujours ressortir invalide.
		payload := qrsign.BuildUnsigned(qrFields(dossier.Appele, numero, now))
		raw, err := payload.Encode()
		if err != nil {
			return Attestation{}, err
		}

		pdfBytes, err := s.renderer.RenderUnsigned(ctx, tpl, fieldValues(dossier, numero, now))
		if err != nil {
			return Attestation{}, err
		}

		key := fmt.Sprintf("attestations/%d/%s.pdf", annee, numero)
		if err := s.putWithRetry(ctx, key, pdfBytes, "application/pdf"); err != nil {
			return Attestation{}, err
		}

		return Attestation{
			ID:             uuid.New(),
			DemandeID:      demandeID,
			Numero:         numero,
			DateGeneration: now,
			PDFKey:         key,
			QRPayload:      raw,
			Statut:         StatutEnAttenteSignature,
		}, nil
	})
	if err != nil {
		return Attestation{}, err
	}

	s.audit.Record(ctx, actor, audit.ActionGeneration, "attestation", att.Numero)
	return att, nil
}

// SignInput décrit la signature à appliquer à une attestation.
type SignInput struct {
	SignataireID  uuid.UUID
	Type          TypeSignature
	ImageKey      *string
	SignataireNom string
}

// Sign applique la signature : champs de signature posés, charge utile QR
// désormais signée HMAC, PDF final rendu, demande basculée en SIGNEE.
// C'est le premier point où le document fait foi.
func (s *Service) Sign(ctx context.Context, attestationID uuid.UUID, input SignInput, actor audit.Actor) (Attestation, error) {
	att, err := s.store.Get(ctx, attestationID)
	if err != nil {
		return Attestation{}, err
	}
	if att.Statut != StatutEnAttenteSignature {
		return Attestation{}, ErrNotSignable
	}

	dossier, err := s.dossiers.GetDossier(ctx, att.DemandeID)
	if err != nil {
		return Attestation{}, err
	}

	tpl, err := s.templates.GetActive(ctx)
	if err != nil {
		return Attestation{}, err
	}

	now := time.Now().UTC()
	payload := qrsign.Build(qrFields(dossier.Appele, att.Numero, att.DateGeneration), s.hmacKey)
	raw, err := payload.Encode()
	if err != nil {
		return Attestation{}, err
	}

	sigInput := pdf.SignatureInput{Texte: input.SignataireNom}
	if input.ImageKey != nil {
		sigInput.ImageKey = *input.ImageKey
	}

	pdfBytes, err := s.renderer.RenderSigned(ctx, tpl,
		fieldValues(dossier, att.Numero, att.DateGeneration), sigInput, raw)
	if err != nil {
		return Attestation{}, err
	}

	if err := s.putWithRetry(ctx, att.PDFKey, pdfBytes, "application/pdf"); err != nil {
		return Attestation{}, err
	}

	sigType := input.Type
	att.Statut = StatutSignee
	att.DateSignature = &now
	att.TypeSignature = &sigType
	att.SignataireID = &input.SignataireID
	att.SignatureImageKey = input.ImageKey
	att.QRPayload = raw

	if err := s.store.ApplySignature(ctx, att); err != nil {
		return Attestation{}, err
	}

	s.audit.Record(ctx, actor, audit.ActionSignature, "attestation", att.Numero)
	s.notifyAppele(ctx, dossier.Appele, notify.TemplateAttestationSignee, att.Numero)
	return att, nil
}

// Deliver acte la remise de l'attestation.
func (s *Service) Deliver(ctx context.Context, attestationID uuid.UUID, actor audit.Actor) error {
	att, err := s.store.Get(ctx, attestationID)
	if err != nil {
		return err
	}
	if err := s.store.MarkDelivered(ctx, attestationID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, audit.ActionDelivrance, "attestation", att.Numero)

	if dossier, err := s.dossiers.GetDossier(ctx, att.DemandeID); err == nil {
		s.notifyAppele(ctx, dossier.Appele, notify.TemplateAttestationADeliv, att.Numero)
	}
	return nil
}

// Delete est l'annulation administrative : l'attestation disparaît, la
// demande revient en VALIDEE, le numéro est définitivement invalidé.
func (s *Service) Delete(ctx context.Context, attestationID uuid.UUID, actor audit.Actor) error {
	att, err := s.store.Get(ctx, attestationID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAndRevert(ctx, attestationID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, audit.ActionSuppression, "attestation", att.Numero)
	return nil
}

// BounceBack renvoie un dossier en instruction et écarte l'attestation non
// signée qui l'accompagnait.
func (s *Service) BounceBack(ctx context.Context, demandeID uuid.UUID, actor audit.Actor) error {
	if err := s.store.DiscardUnsigned(ctx, demandeID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, audit.ActionRenvoi, "demande", demandeID.String())
	return nil
}

// GetByDemande expose l'attestation d'une demande.
func (s *Service) GetByDemande(ctx context.Context, demandeID uuid.UUID) (Attestation, error) {
	return s.store.GetByDemande(ctx, demandeID)
}

// PDF retourne le document stocké.
func (s *Service) PDF(ctx context.Context, attestationID uuid.UUID) ([]byte, error) {
	att, err := s.store.Get(ctx, attestationID)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, att.PDFKey)
}

// reasonInvalide est la seule raison publique : le détail (digest absent,
// altération, statut) ne sort jamais, il est seulement journalisé.
const reasonInvalide = "attestation invalide ou introuvable"

// Verify répond à l'endpoint public. sig/ts forment la preuve de fraîcheur
// optionnelle, couche distincte qui ne remplace jamais le HMAC.
func (s *Service) Verify(ctx context.Context, code, sig, ts string) VerifyResponse {
	att, err := s.store.GetByNumero(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Msg("verification: lecture impossible")
		}
		return VerifyResponse{Valid: false, Reason: reasonInvalide}
	}

	if att.Statut != StatutSignee && att.Statut != StatutDelivree {
		// Décision documentée : avant signature la vérification échoue
		// toujours, la charge utile non signée n'est qu'un jalon.
		log.Warn().Str("numero", code).Msg("verification: attestation non signée scannée")
		return VerifyResponse{Valid: false, Reason: reasonInvalide}
	}

	payload, err := qrsign.Decode(att.QRPayload)
	if err != nil {
		log.Error().Err(err).Str("numero", code).Msg("verification: charge utile illisible")
		return VerifyResponse{Valid: false, Reason: reasonInvalide}
	}
	if payload.Numero != att.Numero {
		log.Warn().Str("numero", code).Msg("verification: numéro incohérent")
		return VerifyResponse{Valid: false, Reason: reasonInvalide}
	}

	res := qrsign.Verify(payload, s.hmacKey)
	if !res.Valid {
		log.Warn().Str("numero", code).Str("motif", res.Reason).
			Msg("verification: altération détectée")
		return VerifyResponse{Valid: false, Reason: reasonInvalide}
	}

	resp := VerifyResponse{
		Valid: true,
		Attestation: &PublicFields{
			Numero:        payload.Numero,
			Nom:           payload.Nom,
			Prenom:        payload.Prenom,
			DateNaissance: payload.DateNaiss,
			Arrete:        payload.ArreteRef,
			DateEmission:  payload.DateEmis,
			Statut:        string(att.Statut),
		},
	}

	if sig != "" || ts != "" {
		fresh := qrsign.CheckFreshness(code, sig, ts, s.hmacKey, s.maxFreshness)
		resp.Fresh = &fresh
	}

	return resp
}

// notifyAppele prévient l'appelé quand il a laissé un e-mail. L'envoi est en
// meilleur effort : son échec ne remet jamais en cause l'opération métier.
func (s *Service) notifyAppele(ctx context.Context, a demande.Appele, templateKey, numero string) {
	if a.Email == nil {
		return
	}
	vars := map[string]string{"numero": numero}
	if err := s.notifier.Dispatch(ctx, *a.Email, templateKey, vars); err != nil {
		log.Warn().Err(err).Str("numero", numero).Str("modele", templateKey).
			Msg("attestation: notification non envoyée")
	}
}

// putWithRetry absorbe les indisponibilités transitoires du stockage.
func (s *Service) putWithRetry(ctx context.Context, key string, body []byte, contentType string) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if _, lastErr = s.blobs.Put(ctx, key, body, contentType); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrStorage, lastErr)
}

func qrFields(a demande.Appele, numero string, emission time.Time) qrsign.Fields {
	arr := ""
	if a.ReferenceArrete != nil {
		arr = *a.ReferenceArrete
	}
	return qrsign.Fields{
		Numero:    numero,
		Nom:       a.Nom,
		Prenom:    a.Prenom,
		DateNaiss: a.DateNaissance,
		ArreteRef: arr,
		DateEmis:  emission,
	}
}

func fieldValues(d demande.Dossier, numero string, emission time.Time) map[string]string {
	values := map[string]string{
		pdf.ChampNumero:        numero,
		pdf.ChampNom:           d.Appele.Nom,
		pdf.ChampPrenom:        d.Appele.Prenom,
		pdf.ChampDateNaissance: d.Appele.DateNaissance.Format("2006-01-02"),
		pdf.ChampLieuNaissance: d.Appele.LieuNaissance,
		pdf.ChampDiplome:       d.Appele.Diplome,
		pdf.ChampPromotion:     d.Appele.Promotion,
		pdf.ChampStructure:     d.Appele.Structure,
		pdf.ChampDebutService:  d.Appele.DebutService.Format("2006-01-02"),
		pdf.ChampDateEmission:  emission.Format("2006-01-02"),
	}
	if d.Appele.FinService != nil {
		values[pdf.ChampFinService] = d.Appele.FinService.Format("2006-01-02")
	}
	if d.Appele.ReferenceArrete != nil {
		values[pdf.ChampArrete] = *d.Appele.ReferenceArrete
	}
	return values
}
