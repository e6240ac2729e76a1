package template

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Store is the slice of the repository the template service needs.
// CreateTemplate must return core.ErrConflict when (business, name, channel)
// already exists.
type Store interface {
	CreateTemplate(ctx context.Context, t *core.Template) error
	GetTemplate(ctx context.Context, businessID, id string) (*core.Template, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// Create validates and persists a new template. Content is immutable after
// creation; the dispatch path only ever reads it.
func (s *Service) Create(ctx context.Context, businessID string, ch core.Channel, name, content string) (*core.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("template content is required")
	}
	t := &core.Template{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		Channel:    ch,
		Name:       name,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, businessID, id string) (*core.Template, error) {
	return s.store.GetTemplate(ctx, businessID, id)
}
