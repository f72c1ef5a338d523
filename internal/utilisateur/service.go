package utilisateur

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/servicecivique/attestation/internal/auth"
	"github.com/servicecivique/attestation/internal/util"
)

// Store définit la persistance requise par le service.
type Store interface {
	GetByEmail(ctx context.Context, email string) (Utilisateur, error)
	GetByID(ctx context.Context, id uuid.UUID) (Utilisateur, error)
	Create(ctx context.Context, u Utilisateur) error
	UpdatePin(ctx context.Context, id uuid.UUID, pinHash string) error
	InsertRefreshToken(ctx context.Context, t TokenRefresh) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (TokenRefresh, error)
	RevokeRefreshToken(ctx context.Context, hash string) error
}

// Service concentre authentification et gestion des comptes.
type Service struct {
	store      Store
	jwt        *auth.JWTManager
	refreshTTL time.Duration
}

func NewService(store Store, jwtMgr *auth.JWTManager, refreshTTL time.Duration) *Service {
	return &Service{store: store, jwt: jwtMgr, refreshTTL: refreshTTL}
}

// JWT expose le gestionnaire de tokens, utile aux middlewares.
func (s *Service) JWT() *auth.JWTManager {
	return s.jwt
}

// LoginResult porte la paire de tokens émise à l'authentification.
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	Utilisateur  Utilisateur `json:"utilisateur"`
}

// Login authentifie par email et mot de passe. Toute cause d'échec retourne
// le même ErrIdentifiantsInvalides pour ne rien révéler de l'existence du
// compte.
func (s *Service) Login(ctx context.Context, email, motDePasse string) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := util.ValidateEmail(email); err != nil {
		return LoginResult{}, ErrIdentifiantsInvalides
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Coût comparable au chemin nominal malgré l'absence de compte.
			_, _ = auth.Verify(motDePasse, dummyHash)
			return LoginResult{}, ErrIdentifiantsInvalides
		}
		return LoginResult{}, err
	}

	ok, err := auth.Verify(motDePasse, u.MotDePasseHash)
	if err != nil || !ok {
		return LoginResult{}, ErrIdentifiantsInvalides
	}
	if !u.Actif {
		return LoginResult{}, ErrCompteDesactive
	}

	return s.issueTokens(ctx, u)
}

// Refresh échange un refresh token valide contre une nouvelle paire. Le
// token présenté est révoqué : rotation systématique.
func (s *Service) Refresh(ctx context.Context, rawToken string) (LoginResult, error) {
	hash := auth.HashRefreshToken(rawToken)

	t, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		return LoginResult{}, ErrRefreshInvalide
	}
	if t.RevokedAt != nil || time.Now().After(t.ExpiresAt) {
		return LoginResult{}, ErrRefreshInvalide
	}

	u, err := s.store.GetByID(ctx, t.UserID)
	if err != nil {
		return LoginResult{}, ErrRefreshInvalide
	}
	if !u.Actif {
		return LoginResult{}, ErrCompteDesactive
	}

	if err := s.store.RevokeRefreshToken(ctx, hash); err != nil {
		return LoginResult{}, err
	}
	return s.issueTokens(ctx, u)
}

// Logout révoque le refresh token présenté. Idempotent.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	return s.store.RevokeRefreshToken(ctx, auth.HashRefreshToken(rawToken))
}

// Me retourne le profil du compte authentifié.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (Utilisateur, error) {
	return s.store.GetByID(ctx, id)
}

// SetPin enrôle ou remplace le PIN de signature d'un directeur, après
// revérification du mot de passe.
func (s *Service) SetPin(ctx context.Context, id uuid.UUID, motDePasse, pin string) error {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := auth.Verify(motDePasse, u.MotDePasseHash)
	if err != nil || !ok {
		return ErrIdentifiantsInvalides
	}
	if err := util.ValidatePIN(pin); err != nil {
		return err
	}

	pinHash, err := auth.Hash(pin)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePin(ctx, id, pinHash); err != nil {
		return err
	}
	log.Info().Str("utilisateur", id.String()).Msg("utilisateur: PIN de signature mis à jour")
	return nil
}

// CreateInput rassemble les données de création de compte.
type CreateInput struct {
	Email      string
	Nom        string
	Role       Role
	MotDePasse string
}

// Create enregistre un nouveau compte, réservé aux administrateurs.
func (s *Service) Create(ctx context.Context, input CreateInput) (Utilisateur, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if err := util.ValidateEmail(email); err != nil {
		return Utilisateur{}, err
	}
	if err := util.RequireString(input.Nom, "nom"); err != nil {
		return Utilisateur{}, err
	}
	switch input.Role {
	case RoleAgent, RoleDirecteur, RoleAdmin:
	default:
		return Utilisateur{}, errors.New("rôle inconnu")
	}
	if len(input.MotDePasse) < 12 {
		return Utilisateur{}, errors.New("mot de passe trop court (12 caractères minimum)")
	}

	hash, err := auth.Hash(input.MotDePasse)
	if err != nil {
		return Utilisateur{}, err
	}
	u := Utilisateur{
		ID:             uuid.New(),
		Email:          email,
		Nom:            strings.TrimSpace(input.Nom),
		Role:           input.Role,
		MotDePasseHash: hash,
		MethodeOTP:     OTPEmail,
		Actif:          true,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return Utilisateur{}, err
	}
	return u, nil
}

func (s *Service) issueTokens(ctx context.Context, u Utilisateur) (LoginResult, error) {
	access, _, err := s.jwt.GenerateAccessToken(u.ID.String(), []string{string(u.Role)})
	if err != nil {
		return LoginResult{}, err
	}

	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return LoginResult{}, err
	}
	err = s.store.InsertRefreshToken(ctx, TokenRefresh{
		ID:        uuid.New(),
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
	})
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{AccessToken: access, RefreshToken: raw, Utilisateur: u}, nil
}

// dummyHash absorbe le temps de vérification quand l'email est inconnu.
// Argon2id d'une chaîne vide, jamais un hash de compte réel.
var dummyHash = func() string {
	h, err := auth.Hash("")
	if err != nil {
		return "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	}
	return h
}()
