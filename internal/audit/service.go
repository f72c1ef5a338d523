package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier relaie une alerte opérationnelle vers un canal externe.
type Notifier interface {
	Notify(ctx context.Context, title, text string) error
}

type inserter interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Service journalise les opérations qui changent l'état du coeur métier.
// Un échec d'écriture ne fait jamais échouer l'opération métier : il est
// journalisé et remonté comme alerte opérationnelle.
type Service struct {
	repo     inserter
	logger   zerolog.Logger
	notifier Notifier
}

func NewService(repo inserter, logger zerolog.Logger, notifier Notifier) *Service {
	return &Service{repo: repo, logger: logger, notifier: notifier}
}

// Record écrit une entrée d'audit, sans propager l'erreur.
func (s *Service) Record(ctx context.Context, actor Actor, action, targetType, targetID string) {
	entry := Entry{
		ID:         uuid.New(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		entry.ActorID = &id
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("target", targetType+"/"+targetID).
			Msg("audit: écriture du journal impossible")
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, "Journal d'audit indisponible",
				"échec d'écriture pour l'action "+action)
		}
	}
}

// List expose le journal aux administrateurs.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	return s.repo.List(ctx, limit, offset)
}
