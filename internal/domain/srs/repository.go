package srs

import (
	"context"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// Repository defines persistence for review cards and their audit trail.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// SaveCard inserts or updates a card.
	SaveCard(ctx context.Context, card ReviewCard) error

	// GetCard returns a card by ID.
	GetCard(ctx context.Context, id string) (ReviewCard, error)

	// FindByContent returns the learner's card for a content item, if any.
	FindByContent(ctx context.Context, learnerID, contentID string) (ReviewCard, error)

	// ListByLearner returns all cards of a learner.
	ListByLearner(ctx context.Context, learnerID string) ([]ReviewCard, error)

	// ListByIDs returns the cards with the given IDs that exist.
	ListByIDs(ctx context.Context, ids []string) ([]ReviewCard, error)

	// ListDue returns cards due before the given instant.
	ListDue(ctx context.Context, learnerID string, before time.Time) ([]ReviewCard, error)

	// SaveResult appends a review audit record.
	SaveResult(ctx context.Context, result ReviewResult) error

	// RecentDomains returns the distinct domains reviewed since the given time,
	// most recent first.
	RecentDomains(ctx context.Context, learnerID string, since time.Time) ([]topic.Domain, error)

	// CountLeeches returns the number of leech cards of a learner.
	CountLeeches(ctx context.Context, learnerID string) (int, error)
}
