package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) genererAttestation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	att, err := h.attestations.Generate(r.Context(), id, actorFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, att)
}

func (h *Handler) getAttestationDemande(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	att, err := h.attestations.GetByDemande(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, att)
}

func (h *Handler) telechargerPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	body, err := h.attestations.PDF(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="attestation.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) delivrerAttestation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.attestations.Deliver(r.Context(), id, actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"delivree": true})
}

func (h *Handler) supprimerAttestation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.attestations.Delete(r.Context(), id, actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"supprimee": true})
}

func (h *Handler) renvoyerDemande(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.attestations.BounceBack(r.Context(), id, actorFromRequest(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"renvoyee": true})
}

// verifierAttestation est l'endpoint public scanné depuis le QR code. Le
// numéro voyage dans le chemin, sig/ts en query. Réponse toujours en 200 :
// le verdict est dans le corps, jamais dans le code HTTP, pour ne pas
// différencier inconnu et altéré.
func (h *Handler) verifierAttestation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := h.attestations.Verify(r.Context(), chi.URLParam(r, "code"), q.Get("sig"), q.Get("ts"))
	WriteJSON(w, http.StatusOK, resp)
}
