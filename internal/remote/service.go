package remote

import (
	"context"

	"github.com/roach88/progsync/internal/model"
)

// Service is the Remote State Service.
//
// Lookups that find nothing return (nil, nil), not an error.
type Service interface {
	GetSession(ctx context.Context) (*model.Identity, error)
	GetActiveEnrollment(ctx context.Context, userID string) (*model.Enrollment, error)
	CreateEnrollment(ctx context.Context, program, level, locale string) (*model.Enrollment, error)
	InsertActivityResponse(ctx context.Context, resp model.ActivityResponse) error
	ListActivityResponses(ctx context.Context, userID string, week int) ([]int, error)

	// Subscribe registers fn for auth events. The returned handle must be
	// disposed by the caller.
	Subscribe(fn func(AuthEvent)) Subscription
}

// AuthEventType distinguishes auth events.
type AuthEventType string

const (
	SignedIn  AuthEventType = "SIGNED_IN"
	SignedOut AuthEventType = "SIGNED_OUT"
)

// AuthEvent is emitted when the remote session changes.
type AuthEvent struct {
	Type AuthEventType
	// Identity is set for SIGNED_IN.
	Identity *model.Identity
}

// Subscription is a cancellable auth event registration.
type Subscription interface {
	Unsubscribe()
}
