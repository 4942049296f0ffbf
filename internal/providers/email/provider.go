package email

import (
	"context"
	"errors"
)

// Provider sends transactional mail to a marketplace user. User-to-address
// resolution belongs to the user service, so providers take a user ID and
// resolve it through a Directory.
type Provider interface {
	SendToUser(ctx context.Context, userID string, subject string, htmlBody string, attachment []byte) error
}

// Directory resolves a user ID to an email address.
type Directory interface {
	EmailForUser(ctx context.Context, userID string) (string, error)
}

// UnconfiguredDirectory is the default when no user service binding exists.
type UnconfiguredDirectory struct{}

func (UnconfiguredDirectory) EmailForUser(ctx context.Context, userID string) (string, error) {
	return "", errors.New("user directory not configured")
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendToUser(ctx context.Context, userID string, subject string, htmlBody string, attachment []byte) error {
	return nil
}
