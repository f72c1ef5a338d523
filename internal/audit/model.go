package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifie l'auteur d'une opération, extrait du contexte de requête.
type Actor struct {
	ID        uuid.UUID
	IP        string
	UserAgent string
}

// Entry est un enregistrement d'audit immuable.
type Entry struct {
	ID         uuid.UUID  `json:"id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	TargetType string     `json:"target_type"`
	TargetID   string     `json:"target_id"`
	IP         string     `json:"ip,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Actions journalisées par le coeur métier.
const (
	ActionGeneration       = "ATTESTATION_GENERATION"
	ActionSignature        = "ATTESTATION_SIGNATURE"
	ActionSuppression      = "ATTESTATION_SUPPRESSION"
	ActionValidation       = "DEMANDE_VALIDATION"
	ActionRejet            = "DEMANDE_REJET"
	ActionDelivrance       = "DEMANDE_DELIVRANCE"
	ActionRenvoi           = "DEMANDE_RENVOI"
	ActionActivationModele = "MODELE_ACTIVATION"
)
