package util

import (
	"errors"
	"net/mail"
	"strings"
)

// ValidateEmail retourne une erreur pour les e-mails invalides.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email obligatoire")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("email invalide")
	}
	return nil
}

// ValidatePIN vérifie qu'un PIN est composé de 4 à 8 chiffres.
func ValidatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return errors.New("le PIN doit compter entre 4 et 8 chiffres")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return errors.New("le PIN ne doit contenir que des chiffres")
		}
	}
	return nil
}

// RequireString garantit une chaîne non vide.
func RequireString(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(field + " obligatoire")
	}
	return nil
}
