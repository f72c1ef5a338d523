package signature

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"github.com/servicecivique/attestation/internal/attestation"
	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/auth"
	"github.com/servicecivique/attestation/internal/config"
	"github.com/servicecivique/attestation/internal/notify"
	"github.com/servicecivique/attestation/internal/utilisateur"
)

const (
	keySession    = "signature:session:"
	keyOTP        = "signature:otp:"
	keyEchecs     = "signature:echecs:"
	keyVerrou     = "signature:verrou:"
	keyEnrolement = "signature:enrolement:"
)

// Annuaire expose les comptes signataires et leurs secrets de second facteur.
type Annuaire interface {
	GetByID(ctx context.Context, id uuid.UUID) (utilisateur.Utilisateur, error)
	EnableTOTP(ctx context.Context, id uuid.UUID, secret string, codesHashes []string) error
	ListBackupHashes(ctx context.Context, id uuid.UUID) ([]string, error)
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error)
}

// Signer applique la signature à une attestation. C'est le service
// d'attestation qui le fournit.
type Signer interface {
	Sign(ctx context.Context, attestationID uuid.UUID, input attestation.SignInput, actor audit.Actor) (attestation.Attestation, error)
}

// Service orchestre le protocole de signature à deux facteurs : PIN, puis
// OTP email ou TOTP, puis application de la signature. Tout l'état
// intermédiaire vit dans le Store avec TTL.
type Service struct {
	store    Store
	annuaire Annuaire
	signer   Signer
	notifier notify.Dispatcher
	cfg      config.SignatureConfig
}

func NewService(store Store, annuaire Annuaire, signer Signer,
	notifier notify.Dispatcher, cfg config.SignatureConfig) *Service {
	return &Service{store: store, annuaire: annuaire, signer: signer, notifier: notifier, cfg: cfg}
}

// Start ouvre une session de signature pour un lot d'attestations. Refusé si
// le signataire est verrouillé ou n'a pas de PIN enrôlé.
func (s *Service) Start(ctx context.Context, directeurID uuid.UUID, attestationIDs []uuid.UUID) (Session, error) {
	if len(attestationIDs) == 0 {
		return Session{}, fmt.Errorf("aucune attestation à signer")
	}
	if locked, err := s.estVerrouille(ctx, directeurID); err != nil {
		return Session{}, err
	} else if locked {
		return Session{}, ErrVerrouille
	}

	u, err := s.annuaire.GetByID(ctx, directeurID)
	if err != nil {
		return Session{}, err
	}
	if u.PinHash == nil {
		return Session{}, ErrPinRequis
	}

	sess := Session{
		ID:             uuid.NewString(),
		DirecteurID:    directeurID,
		AttestationIDs: attestationIDs,
		Etat:           EtatAttentePin,
		Methode:        u.MethodeOTP,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return Session{}, err
	}

	log.Info().Str("session", sess.ID).Str("directeur", directeurID.String()).
		Int("lot", len(attestationIDs)).Msg("signature: session ouverte")
	return sess, nil
}

// SubmitPIN joue la première étape. Quatre échecs dans la fenêtre gèlent le
// signataire pour la durée du verrou ; la session en cours est détruite.
func (s *Service) SubmitPIN(ctx context.Context, sessionID, pin string) (Session, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Etat != EtatAttentePin {
		return Session{}, ErrEtatInvalide
	}
	if locked, err := s.estVerrouille(ctx, sess.DirecteurID); err != nil {
		return Session{}, err
	} else if locked {
		return Session{}, ErrVerrouille
	}

	u, err := s.annuaire.GetByID(ctx, sess.DirecteurID)
	if err != nil {
		return Session{}, err
	}
	if u.PinHash == nil {
		return Session{}, ErrPinRequis
	}

	ok, err := auth.Verify(pin, *u.PinHash)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, s.enregistrerEchec(ctx, sess)
	}

	// PIN accepté : le compteur d'échecs repart de zéro.
	_ = s.store.Del(ctx, keyEchecs+sess.DirecteurID.String())

	sess.Etat = EtatAttenteSecondFacteur
	if err := s.saveSession(ctx, sess); err != nil {
		return Session{}, err
	}

	if sess.Methode == utilisateur.OTPEmail {
		if err := s.envoyerOTP(ctx, sess, u); err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

// SubmitSecondFactor joue la deuxième étape : OTP email, code TOTP ou code
// de secours selon la méthode du signataire.
func (s *Service) SubmitSecondFactor(ctx context.Context, sessionID, code string) (Session, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Etat != EtatAttenteSecondFacteur {
		return Session{}, ErrEtatInvalide
	}

	var valide bool
	switch sess.Methode {
	case utilisateur.OTPEmail:
		valide, err = s.verifierOTPEmail(ctx, sess, code)
	case utilisateur.OTPTotp:
		valide, err = s.verifierTOTP(ctx, sess, code)
	default:
		return Session{}, ErrEtatInvalide
	}
	if err != nil {
		return Session{}, err
	}
	if !valide {
		return Session{}, s.enregistrerEchec(ctx, sess)
	}

	_ = s.store.Del(ctx, keyEchecs+sess.DirecteurID.String())

	sess.Etat = EtatAutorisee
	if err := s.saveSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// FinalizeInput décrit la signature à apposer lors de la finalisation.
type FinalizeInput struct {
	Type          attestation.TypeSignature
	ImageKey      *string
	SignataireNom string
}

// Finalize consomme la session autorisée et signe le lot. La session est
// détruite avant toute signature : elle ne sert qu'une fois, même si le lot
// échoue en partie. Chaque attestation est signée indépendamment et les
// échecs individuels n'annulent pas les succès.
func (s *Service) Finalize(ctx context.Context, sessionID string, input FinalizeInput, actor audit.Actor) (BatchResult, error) {
	raw, err := s.store.GetDel(ctx, keySession+sessionID)
	if err != nil {
		return BatchResult{}, ErrSessionIntrouvable
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return BatchResult{}, ErrSessionIntrouvable
	}
	if sess.Etat != EtatAutorisee {
		return BatchResult{}, ErrEtatInvalide
	}

	var result BatchResult
	for _, id := range sess.AttestationIDs {
		_, err := s.signer.Sign(ctx, id, attestation.SignInput{
			SignataireID:  sess.DirecteurID,
			Type:          input.Type,
			ImageKey:      input.ImageKey,
			SignataireNom: input.SignataireNom,
		}, actor)
		if err != nil {
			log.Warn().Err(err).Str("attestation", id.String()).
				Msg("signature: échec sur un élément du lot")
			result.Echecs = append(result.Echecs, EchecSignature{
				AttestationID: id,
				Motif:         err.Error(),
			})
			continue
		}
		result.Signees = append(result.Signees, id)
	}
	return result, nil
}

// ResendOTP régénère et renvoie l'OTP email d'une session en attente du
// second facteur. L'ancien code est écrasé et ne vaut plus rien. Sans objet
// pour la méthode TOTP.
func (s *Service) ResendOTP(ctx context.Context, sessionID string) error {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Etat != EtatAttenteSecondFacteur || sess.Methode != utilisateur.OTPEmail {
		return ErrEtatInvalide
	}
	u, err := s.annuaire.GetByID(ctx, sess.DirecteurID)
	if err != nil {
		return err
	}
	return s.envoyerOTP(ctx, sess, u)
}

// Cancel détruit une session en cours. Sans effet si elle a déjà expiré.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	return s.store.Del(ctx, keySession+sessionID, keyOTP+sessionID)
}

func (s *Service) saveSession(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, keySession+sess.ID, string(raw), s.cfg.SessionTTL)
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (Session, error) {
	raw, err := s.store.Get(ctx, keySession+sessionID)
	if err != nil {
		return Session{}, ErrSessionIntrouvable
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, ErrSessionIntrouvable
	}
	return sess, nil
}

// enregistrerEchec incrémente le compteur d'échecs et pose le verrou quand
// le plafond est atteint. La session en cours est détruite dans tous les cas
// d'échec de facteur : on repart de zéro.
func (s *Service) enregistrerEchec(ctx context.Context, sess Session) error {
	defer func() { _ = s.Cancel(ctx, sess.ID) }()

	n, err := s.store.Incr(ctx, keyEchecs+sess.DirecteurID.String(), s.cfg.LockoutWindow)
	if err != nil {
		return err
	}
	if n >= int64(s.cfg.MaxPinAttempts) {
		if err := s.store.Set(ctx, keyVerrou+sess.DirecteurID.String(), "1", s.cfg.LockoutTTL); err != nil {
			return err
		}
		log.Warn().Str("directeur", sess.DirecteurID.String()).Int64("echecs", n).
			Msg("signature: signataire verrouillé")
		return ErrVerrouille
	}

	if sess.Etat == EtatAttentePin {
		return ErrPinInvalide
	}
	return ErrCodeInvalide
}

func (s *Service) estVerrouille(ctx context.Context, directeurID uuid.UUID) (bool, error) {
	_, err := s.store.Get(ctx, keyVerrou+directeurID.String())
	if err == nil {
		return true, nil
	}
	if err == ErrAbsent {
		return false, nil
	}
	return false, err
}

func (s *Service) envoyerOTP(ctx context.Context, sess Session, u utilisateur.Utilisateur) error {
	code, err := nouveauCodeOTP()
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, keyOTP+sess.ID, code, s.cfg.OTPTTL); err != nil {
		return err
	}
	return s.notifier.Dispatch(ctx, u.Email, notify.TemplateOTPSignature, map[string]string{
		"code":    code,
		"minutes": fmt.Sprintf("%d", int(s.cfg.OTPTTL.Minutes())),
	})
}

// verifierOTPEmail consomme l'OTP stocké : GetDel garantit l'usage unique,
// un second essai avec le même code trouve la clé absente.
func (s *Service) verifierOTPEmail(ctx context.Context, sess Session, code string) (bool, error) {
	attendu, err := s.store.GetDel(ctx, keyOTP+sess.ID)
	if err != nil {
		if err == ErrAbsent {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(attendu), []byte(code)) == 1, nil
}

// verifierTOTP accepte le pas courant et ses voisins immédiats (dérive
// d'horloge), puis retombe sur les codes de secours.
func (s *Service) verifierTOTP(ctx context.Context, sess Session, code string) (bool, error) {
	u, err := s.annuaire.GetByID(ctx, sess.DirecteurID)
	if err != nil {
		return false, err
	}
	if u.TotpSecret != nil && totpValide(code, *u.TotpSecret) {
		return true, nil
	}
	return s.consommerCodeSecours(ctx, sess.DirecteurID, code)
}

func (s *Service) consommerCodeSecours(ctx context.Context, directeurID uuid.UUID, code string) (bool, error) {
	hash := hashCodeSecours(code)
	hashes, err := s.annuaire.ListBackupHashes(ctx, directeurID)
	if err != nil {
		return false, err
	}
	for _, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hash)) == 1 {
			return s.annuaire.ConsumeBackupCode(ctx, directeurID, hash)
		}
	}
	return false, nil
}

func totpValide(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totpOpts())
	return err == nil && ok
}

// nouveauCodeOTP tire six chiffres en aléa cryptographique.
func nouveauCodeOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCodeSecours(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
