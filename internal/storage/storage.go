package storage

import "context"

// Store abstrait le stockage des fichiers binaires : PDF générés, images de
// signature manuscrite et fonds de modèle.
type Store interface {
	// Put écrit le contenu sous la clé donnée et retourne l'URL ou le
	// chemin d'accès persisté.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Get relit le contenu stocké sous la clé donnée.
	Get(ctx context.Context, key string) ([]byte, error)
}
