package demande

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("demande introuvable")
	// ErrNotEditable indique un statut qui n'autorise plus l'édition.
	ErrNotEditable = errors.New("demande non modifiable dans ce statut")
	// ErrPiecesIncompletes bloque la validation quand le dossier n'est pas conforme.
	ErrPiecesIncompletes = errors.New("pièces absentes ou non conformes")
	// ErrAttestationSignee interdit la suppression d'une demande déjà signée.
	ErrAttestationSignee = errors.New("une attestation signée existe pour cette demande")
)

// Statut représente l'état légal d'une demande dans son cycle de vie.
type Statut string

const (
	StatutEnregistree        Statut = "ENREGISTREE"
	StatutEnTraitement       Statut = "EN_TRAITEMENT"
	StatutPiecesNonConformes Statut = "PIECES_NON_CONFORMES"
	StatutValidee            Statut = "VALIDEE"
	StatutEnAttenteSignature Statut = "EN_ATTENTE_SIGNATURE"
	StatutSignee             Statut = "SIGNEE"
	StatutDelivree           Statut = "DELIVREE"
	StatutRejetee            Statut = "REJETEE"
)

// TypePiece énumère les pièces exigées au dossier.
type TypePiece string

const (
	PieceDemandeManuscrite   TypePiece = "DEMANDE_MANUSCRITE"
	PieceCertificatPresence  TypePiece = "CERTIFICAT_PRESENCE"
	PieceCertificatCessation TypePiece = "CERTIFICAT_CESSATION"
	PieceCertificatPriseServ TypePiece = "CERTIFICAT_PRISE_SERVICE"
	PieceCopieArrete         TypePiece = "COPIE_ARRETE"
)

// TypesPieces liste les pièces constituant un dossier complet.
var TypesPieces = []TypePiece{
	PieceDemandeManuscrite,
	PieceCertificatPresence,
	PieceCertificatCessation,
	PieceCertificatPriseServ,
	PieceCopieArrete,
}

// Demande est le dossier de demande d'attestation d'un appelé.
type Demande struct {
	ID                 uuid.UUID  `json:"id"`
	Numero             string     `json:"numero"`
	DateEnregistrement time.Time  `json:"date_enregistrement"`
	Statut             Statut     `json:"statut"`
	DateValidation     *time.Time `json:"date_validation,omitempty"`
	DateSignature      *time.Time `json:"date_signature,omitempty"`
	DateDelivrance     *time.Time `json:"date_delivrance,omitempty"`
	Observations       *string    `json:"observations,omitempty"`
}

// Appele porte les données biographiques et de service du conscrit.
// Créé atomiquement avec sa demande, relation 1:1 stricte. L'email de
// contact est facultatif et ne sert qu'aux notifications.
type Appele struct {
	ID              uuid.UUID  `json:"id"`
	DemandeID       uuid.UUID  `json:"demande_id"`
	Nom             string     `json:"nom"`
	Prenom          string     `json:"prenom"`
	DateNaissance   time.Time  `json:"date_naissance"`
	LieuNaissance   string     `json:"lieu_naissance"`
	Diplome         string     `json:"diplome"`
	Promotion       string     `json:"promotion"`
	Structure       string     `json:"structure"`
	DebutService    time.Time  `json:"debut_service"`
	FinService      *time.Time `json:"fin_service,omitempty"`
	ReferenceArrete *string    `json:"reference_arrete,omitempty"`
	Email           *string    `json:"email,omitempty"`
}

// PieceDossier matérialise une pièce de la check-list documentaire.
// Conforme est tri-état : nil tant que l'agent n'a pas statué.
type PieceDossier struct {
	ID        uuid.UUID `json:"id"`
	DemandeID uuid.UUID `json:"demande_id"`
	Type      TypePiece `json:"type"`
	Presente  bool      `json:"presente"`
	Conforme  *bool     `json:"conforme,omitempty"`
}

// Dossier agrège la demande, l'appelé et ses pièces.
type Dossier struct {
	Demande Demande        `json:"demande"`
	Appele  Appele         `json:"appele"`
	Pieces  []PieceDossier `json:"pieces"`
}

// DossierComplet vérifie que toutes les pièces sont présentes et qu'aucune
// n'a été marquée non conforme. Une pièce encore en attente d'examen (nil)
// ne bloque pas tant qu'elle est présente.
func DossierComplet(pieces []PieceDossier) bool {
	vues := make(map[TypePiece]bool, len(TypesPieces))
	for _, p := range pieces {
		if !p.Presente {
			return false
		}
		if p.Conforme != nil && !*p.Conforme {
			return false
		}
		vues[p.Type] = true
	}
	for _, t := range TypesPieces {
		if !vues[t] {
			return false
		}
	}
	return true
}
