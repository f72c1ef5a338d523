package signature

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/servicecivique/attestation/internal/utilisateur"
)

var (
	// ErrSessionIntrouvable couvre session inconnue, expirée ou déjà consommée.
	ErrSessionIntrouvable = errors.New("session de signature introuvable ou expirée")
	// ErrEtatInvalide signale une étape jouée hors séquence.
	ErrEtatInvalide = errors.New("étape de signature hors séquence")
	// ErrPinInvalide signale un PIN refusé.
	ErrPinInvalide = errors.New("PIN invalide")
	// ErrVerrouille signale un signataire gelé après trop d'échecs.
	ErrVerrouille = errors.New("signature verrouillée, réessayez plus tard")
	// ErrCodeInvalide signale un second facteur refusé.
	ErrCodeInvalide = errors.New("code de vérification invalide")
	// ErrPinRequis signale un directeur sans PIN enrôlé.
	ErrPinRequis = errors.New("aucun PIN de signature enrôlé")
	// ErrEnrolementIntrouvable signale un enrôlement TOTP expiré ou absent.
	ErrEnrolementIntrouvable = errors.New("enrôlement TOTP introuvable ou expiré")
)

// Etat est l'étape courante de la session de signature. La séquence est
// strictement PIN puis second facteur puis autorisation, sans retour arrière.
type Etat string

const (
	EtatAttentePin           Etat = "ATTENTE_PIN"
	EtatAttenteSecondFacteur Etat = "ATTENTE_SECOND_FACTEUR"
	EtatAutorisee            Etat = "AUTORISEE"
)

// Session est l'état éphémère du protocole, porté par redis avec TTL. Elle
// n'est jamais persistée en base : son expiration vaut annulation.
type Session struct {
	ID             string                 `json:"id"`
	DirecteurID    uuid.UUID              `json:"directeur_id"`
	AttestationIDs []uuid.UUID            `json:"attestation_ids"`
	Etat           Etat                   `json:"etat"`
	Methode        utilisateur.MethodeOTP `json:"methode"`
	CreatedAt      time.Time              `json:"created_at"`
}

// EchecSignature identifie une attestation restée non signée lors d'un lot.
type EchecSignature struct {
	AttestationID uuid.UUID `json:"attestation_id"`
	Motif         string    `json:"motif"`
}

// BatchResult rapporte l'issue détaillée d'une signature par lot : les
// succès sont acquis même quand d'autres éléments du lot échouent.
type BatchResult struct {
	Signees []uuid.UUID      `json:"signees"`
	Echecs  []EchecSignature `json:"echecs,omitempty"`
}

// Enrolement est la réponse au démarrage d'un enrôlement TOTP. Le secret et
// l'URL ne sont montrés qu'une fois.
type Enrolement struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}
