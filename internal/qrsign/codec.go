package qrsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Fields regroupe les six champs métier couverts par la signature HMAC.
type Fields struct {
	Numero    string
	Nom       string
	Prenom    string
	DateNaiss time.Time
	ArreteRef string
	DateEmis  time.Time
}

// Payload est la charge utile embarquée dans le QR code. Les clés courtes
// limitent la densité du QR.
type Payload struct {
	Numero    string `json:"n"`
	Nom       string `json:"nom"`
	Prenom    string `json:"prenom"`
	DateNaiss string `json:"dn"`
	ArreteRef string `json:"arr"`
	DateEmis  string `json:"dt"`
	Digest    string `json:"h,omitempty"`
}

// Result décrit l'issue d'une vérification. Reason n'est jamais exposé tel
// quel au public, seulement journalisé.
type Result struct {
	Valid  bool
	Reason string
}

const dateLayout = "2006-01-02"

// Build sérialise les champs métier, calcule le HMAC-SHA256 avec la clé
// serveur et retourne la charge utile signée. Déterministe à entrées égales.
func Build(f Fields, key []byte) Payload {
	p := Payload{
		Numero:    f.Numero,
		Nom:       f.Nom,
		Prenom:    f.Prenom,
		DateNaiss: f.DateNaiss.Format(dateLayout),
		ArreteRef: f.ArreteRef,
		DateEmis:  f.DateEmis.Format(dateLayout),
	}
	p.Digest = digest(p, key)
	return p
}

// BuildUnsigned retourne la charge utile sans digest. Utilisée entre la
// génération et la signature : un QR non signé doit toujours échouer à la
// vérification.
func BuildUnsigned(f Fields) Payload {
	return Payload{
		Numero:    f.Numero,
		Nom:       f.Nom,
		Prenom:    f.Prenom,
		DateNaiss: f.DateNaiss.Format(dateLayout),
		ArreteRef: f.ArreteRef,
		DateEmis:  f.DateEmis.Format(dateLayout),
	}
}

// Encode produit le JSON compact destiné à l'image QR.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode reconstruit une charge utile depuis le JSON scanné.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("payload illisible: %w", err)
	}
	return p, nil
}

// Verify recompose la sérialisation canonique des champs métier, recalcule
// le HMAC et le compare au digest reçu en temps constant. Ne retourne jamais
// d'erreur pour une entrée malformée : le résultat porte la raison.
func Verify(p Payload, key []byte) Result {
	if p.Numero == "" || p.Nom == "" || p.Prenom == "" || p.DateNaiss == "" || p.DateEmis == "" {
		return Result{Valid: false, Reason: "champ métier absent"}
	}
	if p.Digest == "" {
		return Result{Valid: false, Reason: "digest absent"}
	}
	want, err := hex.DecodeString(p.Digest)
	if err != nil || len(want) != sha256.Size {
		return Result{Valid: false, Reason: "digest malformé"}
	}
	got, err := hex.DecodeString(digest(p, key))
	if err != nil {
		return Result{Valid: false, Reason: "digest malformé"}
	}
	if !hmac.Equal(got, want) {
		return Result{Valid: false, Reason: "digest invalide"}
	}
	return Result{Valid: true}
}

// digest calcule le HMAC hexadécimal sur la forme canonique des champs
// métier : le JSON compact de la charge utile, digest omis. L'ordre des clés
// est fixé par la déclaration de la struct et l'échappement JSON rend la
// forme injective : deux tuples distincts ne partagent jamais la même
// sérialisation, même quand une valeur contient un délimiteur.
func digest(p Payload, key []byte) string {
	p.Digest = ""
	canonical, _ := json.Marshal(p)
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}
