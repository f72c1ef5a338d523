package notify

import "context"

// Dispatcher envoie une notification à partir d'une clé de modèle et de
// variables. L'acheminement concret (SMTP, SMS, WhatsApp) est un
// collaborateur externe ; seul ce contrat fait partie du coeur.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient, templateKey string, vars map[string]string) error
}

// Clés de modèle consommées par le coeur métier.
const (
	TemplateOTPSignature      = "otp_signature"
	TemplateAttestationSignee = "attestation_signee"
	TemplateDemandeRejetee    = "demande_rejetee"
	TemplateAttestationADeliv = "attestation_a_delivrer"
)
