package storage

import (
	"context"
	"errors"
)

// NoopStore signale qu'aucun backend n'est configuré.
type NoopStore struct{}

func (NoopStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	return "", errors.New("storage: aucun backend configuré")
}

func (NoopStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("storage: aucun backend configuré")
}
