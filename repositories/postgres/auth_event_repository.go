package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"go.uber.org/zap"
)

// AuthEventRepository implements the repositories.AuthEventRepository interface
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new auth event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			id, account_id, action, ip_address, user_agent, request_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var details interface{}
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.AccountID,
		event.Action,
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.RequestID),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return mapError("insert auth event", err)
	}

	r.logger.Debug("auth event inserted", zap.String("id", event.ID.String()), zap.String("action", string(event.Action)))
	return nil
}

// ListByAccount retrieves auth events for an account with pagination
func (r *AuthEventRepository) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuthEvent, error) {
	query := `
		SELECT id, account_id, action, ip_address, user_agent, request_id, details, created_at
		FROM auth_events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, mapError("list auth events", err)
	}
	defer rows.Close()

	events := make([]*models.AuthEvent, 0)
	for rows.Next() {
		var (
			e                    models.AuthEvent
			ip, agent, requestID sql.NullString
			details              []byte
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Action, &ip, &agent, &requestID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		e.IPAddress = ip.String
		e.UserAgent = agent.String
		e.RequestID = requestID.String
		if len(details) > 0 {
			e.Details = details
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth event rows: %w", err)
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
