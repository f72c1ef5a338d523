package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/servicecivique/attestation/internal/config"
)

// templates minimalistes côté serveur ; le contenu riche vit dans l'outil
// d'édition de modèles, hors périmètre.
var templates = map[string]struct {
	subject string
	body    string
}{
	TemplateOTPSignature: {
		subject: "Code de signature",
		body:    "Votre code de signature est {{code}}. Il expire dans {{minutes}} minutes.",
	},
	TemplateAttestationSignee: {
		subject: "Attestation signée",
		body:    "L'attestation {{numero}} a été signée et sera bientôt disponible.",
	},
	TemplateDemandeRejetee: {
		subject: "Demande rejetée",
		body:    "Votre demande {{numero}} a été rejetée. Motif : {{motif}}",
	},
	TemplateAttestationADeliv: {
		subject: "Attestation disponible",
		body:    "Votre attestation {{numero}} est disponible au retrait.",
	},
}

// SMTPDispatcher envoie les notifications par e-mail.
type SMTPDispatcher struct {
	cfg config.SMTPConfig
}

func NewSMTPDispatcher(cfg config.SMTPConfig) (*SMTPDispatcher, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("notify: hôte SMTP obligatoire")
	}
	return &SMTPDispatcher{cfg: cfg}, nil
}

func (d *SMTPDispatcher) Dispatch(ctx context.Context, recipient, templateKey string, vars map[string]string) error {
	tpl, ok := templates[templateKey]
	if !ok {
		return fmt.Errorf("notify: modèle %q inconnu", templateKey)
	}

	body := tpl.body
	for key, val := range vars {
		body = strings.ReplaceAll(body, "{{"+key+"}}", val)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		d.cfg.From, recipient, tpl.subject, body)

	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	return smtp.SendMail(addr, auth, d.cfg.From, []string{recipient}, []byte(msg))
}

// NoopDispatcher absorbe les notifications quand aucun canal n'est branché.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(ctx context.Context, recipient, templateKey string, vars map[string]string) error {
	return nil
}
