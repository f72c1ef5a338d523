package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/servicecivique/attestation/internal/attestation"
	"github.com/servicecivique/attestation/internal/signature"
)

type startSessionRequest struct {
	AttestationIDs []uuid.UUID `json:"attestation_ids"`
}

func (h *Handler) ouvrirSession(w http.ResponseWriter, r *http.Request) {
	directeurID, ok := subjectID(r)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "session invalide", nil)
		return
	}
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil || len(req.AttestationIDs) == 0 {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "attestation_ids requis", nil)
		return
	}

	sess, err := h.signatures.Start(r.Context(), directeurID, req.AttestationIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

type pinRequest struct {
	Pin string `json:"pin"`
}

func (h *Handler) soumettrePin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil || req.Pin == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "pin requis", nil)
		return
	}
	sess, err := h.signatures.SubmitPIN(r.Context(), chi.URLParam(r, "id"), req.Pin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) soumettreCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "code requis", nil)
		return
	}
	sess, err := h.signatures.SubmitSecondFactor(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

type finalizeRequest struct {
	Type          string  `json:"type"`
	ImageKey      *string `json:"image_key,omitempty"`
	SignataireNom string  `json:"signataire_nom"`
}

func (h *Handler) finaliserSession(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}

	sigType := attestation.TypeSignature(req.Type)
	switch sigType {
	case attestation.SignatureElectronique, attestation.SignatureManuscrite:
	default:
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "type de signature inconnu", nil)
		return
	}

	result, err := h.signatures.Finalize(r.Context(), chi.URLParam(r, "id"), signature.FinalizeInput{
		Type:          sigType,
		ImageKey:      req.ImageKey,
		SignataireNom: req.SignataireNom,
	}, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// 207 quand le lot est partiellement signé : les succès sont acquis.
	status := http.StatusOK
	if len(result.Echecs) > 0 {
		status = http.StatusMultiStatus
	}
	WriteJSON(w, status, result)
}

func (h *Handler) renvoyerCode(w http.ResponseWriter, r *http.Request) {
	if err := h.signatures.ResendOTP(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"renvoye": true})
}

func (h *Handler) annulerSession(w http.ResponseWriter, r *http.Request) {
	if err := h.signatures.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"annulee": true})
}

func (h *Handler) demarrerEnrolementTOTP(w http.ResponseWriter, r *http.Request) {
	directeurID, ok := subjectID(r)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "session invalide", nil)
		return
	}
	enrol, err := h.signatures.BeginTOTPEnrollment(r.Context(), directeurID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, enrol)
}

func (h *Handler) confirmerEnrolementTOTP(w http.ResponseWriter, r *http.Request) {
	directeurID, ok := subjectID(r)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "session invalide", nil)
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "code requis", nil)
		return
	}
	codes, err := h.signatures.ConfirmTOTPEnrollment(r.Context(), directeurID, req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"codes_secours": codes})
}
