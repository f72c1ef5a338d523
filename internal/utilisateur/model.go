package utilisateur

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("utilisateur introuvable")
	// ErrIdentifiantsInvalides indique un échec d'authentification.
	ErrIdentifiantsInvalides = errors.New("identifiants invalides")
	// ErrCompteDesactive indique un compte suspendu.
	ErrCompteDesactive = errors.New("compte désactivé")
	// ErrRefreshInvalide indique un refresh token inconnu, révoqué ou expiré.
	ErrRefreshInvalide = errors.New("refresh token invalide")
	// ErrPinNonDefini indique qu'aucun PIN de signature n'a été enrôlé.
	ErrPinNonDefini = errors.New("aucun PIN de signature défini")
)

// Role énumère les rôles applicatifs.
type Role string

const (
	RoleAgent     Role = "AGENT"
	RoleDirecteur Role = "DIRECTEUR"
	RoleAdmin     Role = "ADMIN"
)

// MethodeOTP désigne le second facteur actif du signataire.
type MethodeOTP string

const (
	OTPEmail MethodeOTP = "EMAIL"
	OTPTotp  MethodeOTP = "TOTP"
)

// Utilisateur est un compte du backoffice. Les directeurs portent en plus
// les secrets du protocole de signature : PIN haché et, le cas échéant,
// secret TOTP.
type Utilisateur struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	Nom            string     `json:"nom"`
	Role           Role       `json:"role"`
	MotDePasseHash string     `json:"-"`
	PinHash        *string    `json:"-"`
	MethodeOTP     MethodeOTP `json:"methode_otp"`
	TotpSecret     *string    `json:"-"`
	Actif          bool       `json:"actif"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// TokenRefresh est la ligne persistée d'un refresh token (haché, jamais en
// clair).
type TokenRefresh struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}
