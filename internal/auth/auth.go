package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

// APIKeyHeader carries the client credential on ingestion requests.
const APIKeyHeader = "X-API-Key"

var (
	// ErrUnauthenticated means the key is missing or unknown.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the key belongs to a deactivated client.
	ErrForbidden = errors.New("forbidden")
)

// Authenticator maps API keys to registered clients.
type Authenticator struct {
	clients repository.ClientRepository
}

// NewAuthenticator creates an Authenticator backed by the client registry.
func NewAuthenticator(clients repository.ClientRepository) *Authenticator {
	return &Authenticator{clients: clients}
}

// Authenticate resolves apiKey to an active client. It has no side effects.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*domain.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnauthenticated
	}

	client, err := a.clients.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	if !client.IsActive {
		return nil, ErrForbidden
	}

	return client, nil
}
