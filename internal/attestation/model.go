package attestation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("attestation introuvable")
	// ErrInvalidState signale une demande hors du statut VALIDEE.
	ErrInvalidState = errors.New("la demande n'est pas validée")
	// ErrAlreadyIssued garantit l'unicité attestation/demande.
	ErrAlreadyIssued = errors.New("une attestation existe déjà pour cette demande")
	// ErrNotSignable signale une attestation hors d'état d'être signée.
	ErrNotSignable = errors.New("attestation non signable dans ce statut")
	// ErrStorage couvre les échecs persistants du stockage après retries.
	ErrStorage = errors.New("stockage indisponible")
)

// Statut de l'attestation. GENEREE n'existe que le temps du rendu initial,
// la ligne est persistée directement en attente de signature.
type Statut string

const (
	StatutGeneree            Statut = "GENEREE"
	StatutEnAttenteSignature Statut = "EN_ATTENTE_SIGNATURE"
	StatutSignee             Statut = "SIGNEE"
	StatutDelivree           Statut = "DELIVREE"
)

// TypeSignature distingue la signature électronique de la manuscrite
// numérisée.
type TypeSignature string

const (
	SignatureElectronique TypeSignature = "ELECTRONIQUE"
	SignatureManuscrite   TypeSignature = "MANUSCRITE"
)

// Attestation est le certificat émis et ses métadonnées.
type Attestation struct {
	ID                uuid.UUID      `json:"id"`
	DemandeID         uuid.UUID      `json:"demande_id"`
	Numero            string         `json:"numero"`
	DateGeneration    time.Time      `json:"date_generation"`
	PDFKey            string         `json:"pdf_key"`
	QRPayload         []byte         `json:"-"`
	Statut            Statut         `json:"statut"`
	DateSignature     *time.Time     `json:"date_signature,omitempty"`
	TypeSignature     *TypeSignature `json:"type_signature,omitempty"`
	SignataireID      *uuid.UUID     `json:"signataire_id,omitempty"`
	SignatureImageKey *string        `json:"-"`
}

// PublicFields est la projection exposée par l'endpoint public de
// vérification. Rien d'interne n'y figure.
type PublicFields struct {
	Numero        string `json:"numero"`
	Nom           string `json:"nom"`
	Prenom        string `json:"prenom"`
	DateNaissance string `json:"date_naissance"`
	Arrete        string `json:"arrete,omitempty"`
	DateEmission  string `json:"date_emission"`
	Statut        string `json:"statut"`
}

// VerifyResponse est la réponse de l'endpoint public. Reason reste générique
// pour ne jamais servir d'oracle sur le schéma HMAC.
type VerifyResponse struct {
	Valid       bool          `json:"valid"`
	Attestation *PublicFields `json:"attestation,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Fresh       *bool         `json:"fresh,omitempty"`
}
