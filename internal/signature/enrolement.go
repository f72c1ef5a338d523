package signature

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"
)

// enrolementTTL laisse au signataire le temps de scanner le QR dans son
// application avant confirmation.
const enrolementTTL = 10 * time.Minute

const nbCodesSecours = 8

func totpOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// BeginTOTPEnrollment génère un secret TOTP candidat. Le secret reste en
// attente côté serveur : il n'est activé qu'après preuve de possession.
func (s *Service) BeginTOTPEnrollment(ctx context.Context, directeurID uuid.UUID) (Enrolement, error) {
	u, err := s.annuaire.GetByID(ctx, directeurID)
	if err != nil {
		return Enrolement{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: u.Email,
	})
	if err != nil {
		return Enrolement{}, err
	}

	if err := s.store.Set(ctx, keyEnrolement+directeurID.String(), key.Secret(), enrolementTTL); err != nil {
		return Enrolement{}, err
	}
	return Enrolement{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTOTPEnrollment active la méthode TOTP après vérification d'un code
// produit avec le secret candidat. Retourne les codes de secours en clair,
// montrés une seule fois ; seuls leurs hachés sont persistés.
func (s *Service) ConfirmTOTPEnrollment(ctx context.Context, directeurID uuid.UUID, code string) ([]string, error) {
	secret, err := s.store.Get(ctx, keyEnrolement+directeurID.String())
	if err != nil {
		return nil, ErrEnrolementIntrouvable
	}

	if !totpValide(code, secret) {
		return nil, ErrCodeInvalide
	}

	codes, hashes, err := nouveauxCodesSecours(nbCodesSecours)
	if err != nil {
		return nil, err
	}
	if err := s.annuaire.EnableTOTP(ctx, directeurID, secret, hashes); err != nil {
		return nil, err
	}
	_ = s.store.Del(ctx, keyEnrolement+directeurID.String())

	log.Info().Str("directeur", directeurID.String()).Msg("signature: TOTP activé")
	return codes, nil
}

// nouveauxCodesSecours tire n codes de la forme XXXX-XXXX et leurs hachés.
func nouveauxCodesSecours(n int) (codes, hashes []string, err error) {
	for i := 0; i < n; i++ {
		buf := make([]byte, 4)
		if _, err = rand.Read(buf); err != nil {
			return nil, nil, err
		}
		raw := strings.ToUpper(hex.EncodeToString(buf))
		code := fmt.Sprintf("%s-%s", raw[:4], raw[4:])
		codes = append(codes, code)
		hashes = append(hashes, hashCodeSecours(code))
	}
	return codes, hashes, nil
}
