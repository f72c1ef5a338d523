package auth

import (
	"github.com/alexedwards/argon2id"
)

var params = &argon2id.Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hash génère un hash Argon2id (les paramètres sont inclus dans le hash).
// Sert aussi bien aux mots de passe qu'aux codes PIN des signataires.
func Hash(secret string) (string, error) {
	return argon2id.CreateHash(secret, params)
}

// Verify compare un secret au hash Argon2id correspondant.
func Verify(secret, encodedHash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(secret, encodedHash)
}
