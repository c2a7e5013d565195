package repository

import (
	"context"

	"miniapp-sso/backend/internal/miniapp/domain"
)

// Registry is the read-only App registry consumed by the SSO core.
// GetApp returns (nil, nil) when the app does not exist.
type Registry interface {
	GetApp(ctx context.Context, appID string) (*domain.App, error)
}
