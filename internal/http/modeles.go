package http

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/pdf"
)

type modeleRequest struct {
	Nom           string      `json:"nom"`
	PageWidth     float64     `json:"page_width"`
	PageHeight    float64     `json:"page_height"`
	Orientation   string      `json:"orientation"`
	BackgroundKey string      `json:"background_key"`
	Fields        []pdf.Field `json:"fields"`
	SignatureBox  pdf.Box     `json:"signature_box"`
	QRBox         pdf.QRBox   `json:"qr_box"`
}

func (req modeleRequest) template() pdf.Template {
	return pdf.Template{
		Nom:           req.Nom,
		SchemaVersion: pdf.SchemaVersion,
		PageWidth:     req.PageWidth,
		PageHeight:    req.PageHeight,
		Orientation:   req.Orientation,
		BackgroundKey: req.BackgroundKey,
		Fields:        req.Fields,
		SignatureBox:  req.SignatureBox,
		QRBox:         req.QRBox,
	}
}

func (h *Handler) listerModeles(w http.ResponseWriter, r *http.Request) {
	list, err := h.modeles.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getModele(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	tpl, err := h.modeles.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tpl)
}

// creerModele valide la définition avant insertion : un modèle incohérent
// n'entre jamais en base.
func (h *Handler) creerModele(w http.ResponseWriter, r *http.Request) {
	var req modeleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}
	tpl := req.template()
	if err := tpl.Validate(); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error(), nil)
		return
	}

	created, err := h.modeles.Create(r.Context(), tpl)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) majModele(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	var req modeleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "corps JSON invalide", nil)
		return
	}
	tpl := req.template()
	tpl.ID = id
	if err := tpl.Validate(); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error(), nil)
		return
	}

	if err := h.modeles.Update(r.Context(), tpl); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"mis_a_jour": true})
}

func (h *Handler) activerModele(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "identifiant invalide", nil)
		return
	}
	if err := h.modeles.Activate(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	h.audit.Record(r.Context(), actorFromRequest(r), audit.ActionActivationModele, "modele", id.String())
	WriteJSON(w, http.StatusOK, map[string]bool{"active": true})
}

const maxFondSize = 10 << 20 // 10 Mo

// televerserFond reçoit le fond de page (PNG ou JPEG) en multipart et le
// range dans le stockage. La clé retournée alimente background_key.
func (h *Handler) televerserFond(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFondSize); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "formulaire multipart invalide", nil)
		return
	}
	file, header, err := r.FormFile("fichier")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "champ fichier requis", nil)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	var contentType string
	switch ext {
	case ".png":
		contentType = "image/png"
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	default:
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "format accepté: PNG ou JPEG", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(file, maxFondSize+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "lecture du fichier impossible", nil)
		return
	}
	if len(body) > maxFondSize {
		WriteError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "fichier trop volumineux (10 Mo max)", nil)
		return
	}

	key := fmt.Sprintf("modeles/%s%s", uuid.NewString(), ext)
	if _, err := h.blobs.Put(r.Context(), key, body, contentType); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "STORAGE", "stockage indisponible", nil)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"background_key": key})
}

func (h *Handler) listerAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}
