package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository"
)

const uniqueViolation = "23505"

const clientColumns = `id, name, api_key, is_active, rate_limit, created_at`

// Repository implements the client registry and the audit sink on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ repository.ClientRepository = (*Repository)(nil)
	_ repository.AuditRepository  = (*Repository)(nil)
)

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByAPIKey resolves a client from its API key.
func (r *Repository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Client, error) {
	const query = `SELECT ` + clientColumns + ` FROM clients WHERE api_key = $1`
	return r.getClient(ctx, query, apiKey)
}

// GetByID fetches a client by identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	const query = `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	return r.getClient(ctx, query, id)
}

func (r *Repository) getClient(ctx context.Context, query string, arg string) (*domain.Client, error) {
	client, err := scanClient(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

// List returns every registered client ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]domain.Client, error) {
	const query = `SELECT ` + clientColumns + ` FROM clients ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := []domain.Client{}
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, *client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return clients, nil
}

// Create inserts a client. A duplicate id or api key yields repository.ErrConflict.
func (r *Repository) Create(ctx context.Context, client *domain.Client) error {
	const query = `INSERT INTO clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		client.ID, client.Name, client.APIKey, client.IsActive, client.RateLimit, client.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("client %s: %w", client.ID, repository.ErrConflict)
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// SetActive flips the active flag. Clients are never deleted.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE clients SET is_active = $2 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ping checks that the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// InsertAuditBatch appends audit entries in a single round trip.
func (r *Repository) InsertAuditBatch(ctx context.Context, entries []domain.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const query = `INSERT INTO audit_logs
		(request_id, client_id, endpoint, method, status_code, response_time_ms, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(query,
			entry.RequestID,
			nullable(entry.ClientID),
			entry.Endpoint,
			entry.Method,
			entry.StatusCode,
			entry.ResponseTimeMs,
			entry.Timestamp,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close audit batch: %w", err)
	}
	return nil
}

func scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client
	if err := row.Scan(&c.ID, &c.Name, &c.APIKey, &c.IsActive, &c.RateLimit, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
