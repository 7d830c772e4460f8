package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/splashkes/eventlinter/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	UpsertSuppression(ctx context.Context, s *models.Suppression) (*models.Suppression, error)
	GetSuppression(ctx context.Context, id uuid.UUID) (*models.Suppression, error)
	ListSuppressions(ctx context.Context, filter SuppressionFilter) ([]*models.Suppression, int, error)
}

// SuppressionFilter narrows ListSuppressions. Zero values do not filter.
type SuppressionFilter struct {
	RuleID   string
	EventID  string
	ArtistID string
	// ActiveOnly drops records whose expiry has passed.
	ActiveOnly bool
	Page       int
	Limit      int
}
