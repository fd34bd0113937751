package progression

import (
	"context"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// Repository persists domain statuses.
type Repository interface {
	// CreateAll stores the initial statuses of a learner.
	CreateAll(ctx context.Context, statuses []Status) error

	// Get returns the status of one domain.
	Get(ctx context.Context, learnerID string, domain topic.Domain) (Status, error)

	// ListByLearner returns every domain status of a learner in catalogue order.
	ListByLearner(ctx context.Context, learnerID string) ([]Status, error)

	// Save writes status if the stored version equals status.Version and
	// returns the status with its new version.
	Save(ctx context.Context, status Status) (Status, error)
}

// RetentionRepository persists retention checks.
type RetentionRepository interface {
	Create(ctx context.Context, check RetentionCheck) error
	Get(ctx context.Context, id string) (RetentionCheck, error)
	Save(ctx context.Context, check RetentionCheck) error

	// ListPending returns uncompleted checks of a learner.
	ListPending(ctx context.Context, learnerID string) ([]RetentionCheck, error)

	// ListDue returns uncompleted checks scheduled at or before the given time.
	ListDue(ctx context.Context, before time.Time, limit int) ([]RetentionCheck, error)
}
