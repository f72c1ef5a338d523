package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/servicecivique/attestation/internal/attestation"
	"github.com/servicecivique/attestation/internal/demande"
	"github.com/servicecivique/attestation/internal/pdf"
	"github.com/servicecivique/attestation/internal/signature"
	"github.com/servicecivique/attestation/internal/utilisateur"
)

// SuccessEnvelope normalise les réponses avec données.
type SuccessEnvelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

// ErrorEnvelope normalise les réponses d'erreur.
type ErrorEnvelope struct {
	Data  any        `json:"data"`
	Error *ErrorBody `json:"error"`
}

// ErrorBody décrit une erreur normalisée.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON écrit l'enveloppe de succès.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessEnvelope{Data: data, Error: nil})
}

// WriteError écrit l'enveloppe d'erreur en gardant un format constant.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Data:  nil,
		Error: &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// writeDomainError traduit les erreurs sentinelles du coeur métier en
// réponses HTTP. Tout le reste sort en 500 générique.
func writeDomainError(w http.ResponseWriter, err error) {
	var illegal demande.IllegalTransitionError
	if errors.As(err, &illegal) {
		WriteError(w, http.StatusConflict, "TRANSITION", illegal.Error(), map[string]string{
			"de":   string(illegal.From),
			"vers": string(illegal.To),
		})
		return
	}

	switch {
	case errors.Is(err, demande.ErrNotFound),
		errors.Is(err, attestation.ErrNotFound),
		errors.Is(err, pdf.ErrNotFound),
		errors.Is(err, utilisateur.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, demande.ErrNotEditable),
		errors.Is(err, demande.ErrAttestationSignee),
		errors.Is(err, attestation.ErrInvalidState),
		errors.Is(err, attestation.ErrAlreadyIssued),
		errors.Is(err, attestation.ErrNotSignable):
		WriteError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, demande.ErrPiecesIncompletes),
		errors.Is(err, pdf.ErrNoActiveTemplate):
		WriteError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error(), nil)
	case errors.Is(err, utilisateur.ErrIdentifiantsInvalides),
		errors.Is(err, utilisateur.ErrRefreshInvalide):
		WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
	case errors.Is(err, utilisateur.ErrCompteDesactive):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, signature.ErrVerrouille):
		WriteError(w, http.StatusLocked, "LOCKED", err.Error(), nil)
	case errors.Is(err, signature.ErrSessionIntrouvable),
		errors.Is(err, signature.ErrEnrolementIntrouvable):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, signature.ErrPinInvalide),
		errors.Is(err, signature.ErrCodeInvalide):
		WriteError(w, http.StatusUnauthorized, "SIGNATURE", err.Error(), nil)
	case errors.Is(err, signature.ErrEtatInvalide),
		errors.Is(err, signature.ErrPinRequis):
		WriteError(w, http.StatusConflict, "SIGNATURE", err.Error(), nil)
	case errors.Is(err, attestation.ErrStorage):
		WriteError(w, http.StatusServiceUnavailable, "STORAGE", err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erreur interne", nil)
	}
}
