package http

import (
	"net/http"

	"github.com/google/uuid"

	httpmiddleware "github.com/servicecivique/attestation/internal/http/middleware"
	"github.com/servicecivique/attestation/internal/utilisateur"
)

type loginRequest struct {
	Email      string `json:"email"`
	MotDePasse string `json:"mot_de_passe"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}

	result, err := h.comptes.Login(r.Context(), req.Email, req.MotDePasse)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "refresh_token requis", nil)
		return
	}

	result, err := h.comptes.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "refresh_token requis", nil)
		return
	}
	if err := h.comptes.Logout(r.Context(), req.RefreshToken); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"deconnecte": true})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := subjectID(r)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "session invalide", nil)
		return
	}
	u, err := h.comptes.Me(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

type setPinRequest struct {
	MotDePasse string `json:"mot_de_passe"`
	Pin        string `json:"pin"`
}

func (h *Handler) setPin(w http.ResponseWriter, r *http.Request) {
	id, ok := subjectID(r)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "session invalide", nil)
		return
	}
	var req setPinRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}
	if err := h.comptes.SetPin(r.Context(), id, req.MotDePasse, req.Pin); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"pin_defini": true})
}

type createUserRequest struct {
	Email      string `json:"email"`
	Nom        string `json:"nom"`
	Role       string `json:"role"`
	MotDePasse string `json:"mot_de_passe"`
}

func (h *Handler) creerUtilisateur(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}

	u, err := h.comptes.Create(r.Context(), utilisateur.CreateInput{
		Email:      req.Email,
		Nom:        req.Nom,
		Role:       utilisateur.Role(req.Role),
		MotDePasse: req.MotDePasse,
	})
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusCreated, u)
}

func subjectID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(httpmiddleware.GetSubject(r.Context()))
	return id, err == nil
}
