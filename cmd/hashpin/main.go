package main

import (
	"fmt"
	"os"

	"github.com/servicecivique/attestation/internal/auth"
	"github.com/servicecivique/attestation/internal/util"
)

// hashpin produit le haché Argon2id d'un PIN ou d'un mot de passe, pour
// l'amorçage manuel des comptes en base.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hashpin <pin|mot de passe>")
		os.Exit(1)
	}

	secret := os.Args[1]
	if err := util.ValidatePIN(secret); err != nil && len(secret) < 12 {
		fmt.Fprintln(os.Stderr, "avertissement: ni un PIN (4 à 8 chiffres) ni un mot de passe d'au moins 12 caractères")
	}

	hash, err := auth.Hash(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "erreur de hachage: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
