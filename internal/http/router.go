package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/servicecivique/attestation/internal/attestation"
	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/config"
	"github.com/servicecivique/attestation/internal/demande"
	httpmiddleware "github.com/servicecivique/attestation/internal/http/middleware"
	"github.com/servicecivique/attestation/internal/pdf"
	"github.com/servicecivique/attestation/internal/signature"
	"github.com/servicecivique/attestation/internal/storage"
	"github.com/servicecivique/attestation/internal/utilisateur"
)

// TemplateStore définit les opérations d'administration des modèles.
type TemplateStore interface {
	Create(ctx context.Context, t pdf.Template) (pdf.Template, error)
	Update(ctx context.Context, t pdf.Template) error
	Activate(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (pdf.Template, error)
	List(ctx context.Context) ([]pdf.Template, error)
}

// Handler regroupe les dépendances des endpoints.
type Handler struct {
	cfg           *config.Config
	comptes       *utilisateur.Service
	demandes      *demande.Service
	attestations  *attestation.Service
	signatures    *signature.Service
	modeles       TemplateStore
	blobs         storage.Store
	audit         *audit.Service
	publicLimiter *httpmiddleware.RateLimiter
	authLimiter   *httpmiddleware.RateLimiter
}

// Services rassemble les collaborateurs injectés dans le routeur.
type Services struct {
	Comptes      *utilisateur.Service
	Demandes     *demande.Service
	Attestations *attestation.Service
	Signatures   *signature.Service
	Modeles      TemplateStore
	Blobs        storage.Store
	Audit        *audit.Service
}

// NewRouter assemble le routeur complet.
func NewRouter(cfg *config.Config, svcs Services) http.Handler {
	h := &Handler{
		cfg:           cfg,
		comptes:       svcs.Comptes,
		demandes:      svcs.Demandes,
		attestations:  svcs.Attestations,
		signatures:    svcs.Signatures,
		modeles:       svcs.Modeles,
		blobs:         svcs.Blobs,
		audit:         svcs.Audit,
		publicLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:   httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Endpoint public de vérification, throttlé par IP, jamais authentifié.
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.IPRateLimit(h.publicLimiter))
		r.Get("/v1/public/attestations/{code}/verification", h.verifierAttestation)
	})

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(httpmiddleware.IPRateLimit(h.authLimiter))
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.Auth(h.comptes.JWT()))
		r.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		r.Get("/v1/me", h.me)
		r.Put("/v1/me/pin", h.setPin)

		r.Route("/v1/demandes", func(r chi.Router) {
			r.Post("/", h.creerDemande)
			r.Get("/", h.listerDemandes)
			r.Get("/{id}", h.getDemande)
			r.Put("/{id}/appele", h.majAppele)
			r.Put("/{id}/pieces/{type}", h.majPiece)
			r.Post("/{id}/instruction", h.demarrerInstruction)
			r.Post("/{id}/pieces-non-conformes", h.signalerPieces)
			r.Post("/{id}/validation", h.validerDemande)
			r.Post("/{id}/rejet", h.rejeterDemande)
			r.Post("/{id}/attestation", h.genererAttestation)
			r.Get("/{id}/attestation", h.getAttestationDemande)

			r.With(httpmiddleware.RequireRoles("DIRECTEUR", "ADMIN")).
				Post("/{id}/renvoi", h.renvoyerDemande)
			r.With(httpmiddleware.RequireRoles("ADMIN")).
				Delete("/{id}", h.supprimerDemande)
		})

		r.Route("/v1/attestations", func(r chi.Router) {
			r.Get("/{id}/pdf", h.telechargerPDF)
			r.Post("/{id}/delivrance", h.delivrerAttestation)
			r.With(httpmiddleware.RequireRoles("ADMIN")).
				Delete("/{id}", h.supprimerAttestation)
		})

		r.Route("/v1/signatures", func(r chi.Router) {
			r.Use(httpmiddleware.RequireRoles("DIRECTEUR", "ADMIN"))
			r.Post("/sessions", h.ouvrirSession)
			r.Post("/sessions/{id}/pin", h.soumettrePin)
			r.Post("/sessions/{id}/code", h.soumettreCode)
			r.Post("/sessions/{id}/renvoi", h.renvoyerCode)
			r.Post("/sessions/{id}/finalisation", h.finaliserSession)
			r.Delete("/sessions/{id}", h.annulerSession)
			r.Post("/totp", h.demarrerEnrolementTOTP)
			r.Post("/totp/confirmation", h.confirmerEnrolementTOTP)
		})

		r.Route("/v1/modeles", func(r chi.Router) {
			r.Use(httpmiddleware.RequireRoles("ADMIN"))
			r.Get("/", h.listerModeles)
			r.Post("/", h.creerModele)
			r.Get("/{id}", h.getModele)
			r.Put("/{id}", h.majModele)
			r.Post("/{id}/activation", h.activerModele)
			r.Post("/fonds", h.televerserFond)
		})

		r.With(httpmiddleware.RequireRoles("ADMIN")).Get("/v1/audit", h.listerAudit)
		r.With(httpmiddleware.RequireRoles("ADMIN")).Post("/v1/utilisateurs", h.creerUtilisateur)
	})

	return r
}

// actorFromRequest reconstruit l'auteur pour le journal d'audit.
func actorFromRequest(r *http.Request) audit.Actor {
	actor := audit.Actor{
		IP:        httpmiddleware.RealIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
	if subject := httpmiddleware.GetSubject(r.Context()); subject != "" {
		if id, err := uuid.Parse(subject); err == nil {
			actor.ID = id
		}
	}
	return actor
}

// urlID extrait l'UUID du chemin.
func urlID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
