package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/servicecivique/attestation/internal/demande"
)

type appeleRequest struct {
	Nom             string  `json:"nom"`
	Prenom          string  `json:"prenom"`
	DateNaissance   string  `json:"date_naissance"`
	LieuNaissance   string  `json:"lieu_naissance"`
	Diplome         string  `json:"diplome"`
	Promotion       string  `json:"promotion"`
	Structure       string  `json:"structure"`
	DebutService    string  `json:"debut_service"`
	FinService      *string `json:"fin_service,omitempty"`
	ReferenceArrete *string `json:"reference_arrete,omitempty"`
	Email           *string `json:"email,omitempty"`
}

type createDemandeRequest struct {
	appeleRequest
	Observations *string `json:"observations,omitempty"`
}

const dateISO = "2006-01-02"

func (h *Handler) creerDemande(w http.ResponseWriter, r *http.Request) {
	var req createDemandeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}

	naissance, err := time.Parse(dateISO, req.DateNaissance)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "date_naissance invalide (AAAA-MM-JJ)", nil)
		return
	}
	debut, err := time.Parse(dateISO, req.DebutService)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "debut_service invalide (AAAA-MM-JJ)", nil)
		return
	}
	var fin *time.Time
	if req.FinService != nil {
		t, err := time.Parse(dateISO, *req.FinService)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "fin_service invalide (AAAA-MM-JJ)", nil)
			return
		}
		fin = &t
	}

	dossier, err := h.demandes.Create(r.Context(), demande.CreateInput{
		Nom:             req.Nom,
		Prenom:          req.Prenom,
		DateNaissance:   naissance,
		LieuNaissance:   req.LieuNaissance,
		Diplome:         req.Diplome,
		Promotion:       req.Promotion,
		Structure:       req.Structure,
		DebutService:    debut,
		FinService:      fin,
		ReferenceArrete: req.ReferenceArrete,
		Email:           req.Email,
		Observations:    req.Observations,
	})
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusCreated, dossier)
}

func (h *Handler) listerDemandes(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	var statut *demande.Statut
	if s := r.URL.Query().Get("statut"); s != "" {
		st := demande.Statut(s)
		statut = &st
	}

	list, err := h.demandes.List(r.Context(), statut, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getDemande(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	dossier, err := h.demandes.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dossier)
}

func (h *Handler) majAppele(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	var req appeleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}

	naissance, err := time.Parse(dateISO, req.DateNaissance)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "date_naissance invalide (AAAA-MM-JJ)", nil)
		return
	}
	debut, err := time.Parse(dateISO, req.DebutService)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "debut_service invalide (AAAA-MM-JJ)", nil)
		return
	}
	var fin *time.Time
	if req.FinService != nil {
		t, err := time.Parse(dateISO, *req.FinService)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "fin_service invalide (AAAA-MM-JJ)", nil)
			return
		}
		fin = &t
	}

	err = h.demandes.UpdateAppele(r.Context(), id, demande.Appele{
		Nom:             req.Nom,
		Prenom:          req.Prenom,
		DateNaissance:   naissance,
		LieuNaissance:   req.LieuNaissance,
		Diplome:         req.Diplome,
		Promotion:       req.Promotion,
		Structure:       req.Structure,
		DebutService:    debut,
		FinService:      fin,
		ReferenceArrete: req.ReferenceArrete,
		Email:           req.Email,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"mis_a_jour": true})
}

type pieceRequest struct {
	Presente bool  `json:"presente"`
	Conforme *bool `json:"conforme,omitempty"`
}

func (h *Handler) majPiece(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	typePiece := demande.TypePiece(chi.URLParam(r, "type"))
	connu := false
	for _, t := range demande.TypesPieces {
		if t == typePiece {
			connu = true
			break
		}
	}
	if !connu {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "type de pièce inconnu", nil)
		return
	}

	var req pieceRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}
	if err := h.demandes.UpdatePiece(r.Context(), id, typePiece, req.Presente, req.Conforme); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"mis_a_jour": true})
}

func (h *Handler) demarrerInstruction(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.demandes.StartReview(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"statut": string(demande.StatutEnTraitement)})
}

type observationsRequest struct {
	Observations *string `json:"observations,omitempty"`
}

func (h *Handler) signalerPieces(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	var req observationsRequest
	_ = decodeJSON(r, &req)

	if err := h.demandes.FlagPiecesNonConformes(r.Context(), id, req.Observations); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"statut": string(demande.StatutPiecesNonConformes)})
}

func (h *Handler) validerDemande(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.demandes.Validate(r.Context(), id, actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"statut": string(demande.StatutValidee)})
}

func (h *Handler) rejeterDemande(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	var req observationsRequest
	_ = decodeJSON(r, &req)

	if err := h.demandes.Reject(r.Context(), id, req.Observations, actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"statut": string(demande.StatutRejetee)})
}

func (h *Handler) supprimerDemande(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.demandes.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"supprime": true})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
