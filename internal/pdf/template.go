package pdf

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("modèle introuvable")
	// ErrNoActiveTemplate signale l'absence de modèle actif exploitable.
	ErrNoActiveTemplate = errors.New("aucun modèle actif")
)

// SchemaVersion courant des définitions de champs. Un modèle chargé avec
// une version inconnue est rejeté avant toute tentative de rendu.
const SchemaVersion = 1

// FieldType énumère les types de champ posables sur le modèle.
type FieldType string

const (
	FieldText   FieldType = "texte"
	FieldDate   FieldType = "date"
	FieldNumber FieldType = "nombre"
)

// Field est un emplacement de champ sur le fond du modèle. Les coordonnées
// sont en points, relatives à la page du modèle.
type Field struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	FontSize  float64   `json:"font_size"`
	FontStyle string    `json:"font_style,omitempty"` // "", "B", "I", "BI"
	Color     string    `json:"color,omitempty"`      // "#RRGGBB"
	MaxWidth  float64   `json:"max_width,omitempty"`
}

// Box positionne une image (signature) avec sa taille.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// QRBox positionne le QR code, carré de côté Size.
type QRBox struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// Template décrit un modèle d'attestation : fond, géométrie de page et
// liste des emplacements de champs. Au plus un modèle est actif.
type Template struct {
	ID            uuid.UUID `json:"id"`
	Nom           string    `json:"nom"`
	Actif         bool      `json:"actif"`
	SchemaVersion int       `json:"schema_version"`
	PageWidth     float64   `json:"page_width"`
	PageHeight    float64   `json:"page_height"`
	Orientation   string    `json:"orientation"` // "portrait" ou "paysage"
	BackgroundKey string    `json:"background_key"`
	Fields        []Field   `json:"fields"`
	SignatureBox  Box       `json:"signature_box"`
	QRBox         QRBox     `json:"qr_box"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate vérifie la cohérence du modèle au chargement, avant toute
// génération, plutôt qu'en plein rendu.
func (t Template) Validate() error {
	if t.SchemaVersion != SchemaVersion {
		return fmt.Errorf("modèle %s: version de schéma %d non supportée", t.Nom, t.SchemaVersion)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("modèle %s: aucun champ configuré", t.Nom)
	}
	if t.PageWidth <= 0 || t.PageHeight <= 0 {
		return fmt.Errorf("modèle %s: dimensions de page invalides", t.Nom)
	}
	switch t.Orientation {
	case "portrait", "paysage":
	default:
		return fmt.Errorf("modèle %s: orientation %q inconnue", t.Nom, t.Orientation)
	}
	if t.BackgroundKey == "" {
		return fmt.Errorf("modèle %s: fond absent", t.Nom)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.ID == "" {
			return fmt.Errorf("modèle %s: champ sans identifiant", t.Nom)
		}
		if seen[f.ID] {
			return fmt.Errorf("modèle %s: champ %q en double", t.Nom, f.ID)
		}
		seen[f.ID] = true
		switch f.Type {
		case FieldText, FieldDate, FieldNumber:
		default:
			return fmt.Errorf("modèle %s: champ %q de type %q inconnu", t.Nom, f.ID, f.Type)
		}
		if f.X < 0 || f.Y < 0 || f.X > t.PageWidth || f.Y > t.PageHeight {
			return fmt.Errorf("modèle %s: champ %q hors page", t.Nom, f.ID)
		}
		if f.FontSize <= 0 {
			return fmt.Errorf("modèle %s: champ %q sans taille de police", t.Nom, f.ID)
		}
	}
	if t.QRBox.Size <= 0 {
		return fmt.Errorf("modèle %s: taille du QR invalide", t.Nom)
	}
	return nil
}

// Identifiants de champs connus du moteur, renseignés depuis le dossier.
const (
	ChampNumero        = "numero"
	ChampNom           = "nom"
	ChampPrenom        = "prenom"
	ChampDateNaissance = "date_naissance"
	ChampLieuNaissance = "lieu_naissance"
	ChampDiplome       = "diplome"
	ChampPromotion     = "promotion"
	ChampStructure     = "structure"
	ChampDebutService  = "debut_service"
	ChampFinService    = "fin_service"
	ChampArrete        = "reference_arrete"
	ChampDateEmission  = "date_emission"
)
