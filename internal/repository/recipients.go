package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

func (r *Repository) GetRecipient(ctx context.Context, userID int64) (*domain.Recipient, error) {
	query := `
		SELECT full_name, email, phone
		FROM users WHERE id = $1 AND is_active = TRUE
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	recipient := &domain.Recipient{
		UserID: userID,
	}

	if err := r.dbpool.QueryRowContext(ctx, query, userID).Scan(&recipient.FullName, &recipient.Email, &recipient.Phone); err != nil {
		return nil, err
	}

	return recipient, nil
}

func (r *Repository) ListRecipientsByRole(ctx context.Context, orgID int64, roles []domain.Role) ([]*domain.Recipient, error) {
	query := `
		SELECT id, full_name, email, phone
		FROM users
		WHERE org_id = $1 AND role = ANY($2) AND is_active = TRUE
		ORDER BY id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}

	rows, err := r.dbpool.QueryContext(ctx, query, orgID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := make([]*domain.Recipient, 0)
	for rows.Next() {
		recipient := &domain.Recipient{}
		if err := rows.Scan(&recipient.UserID, &recipient.FullName, &recipient.Email, &recipient.Phone); err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recipients, nil
}

// CancelScheduledNotifications 撤销分配下尚未发送的定时提醒，返回被撤销的条数
func (r *Repository) CancelScheduledNotifications(ctx context.Context, assignmentID int64, types []string) (int64, error) {
	query := `
		UPDATE scheduled_notifications
		SET status = 'cancelled'
		WHERE assignment_id = $1 AND type = ANY($2) AND status = 'scheduled'
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, assignmentID, types)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *Repository) CreateUser(ctx context.Context, orgID int64, role domain.Role, recipient *domain.Recipient) error {
	query := `
		INSERT INTO users (org_id, full_name, email, phone, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	args := []any{orgID, recipient.FullName, recipient.Email, recipient.Phone, role}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&recipient.UserID); err != nil {
		return err
	}

	return nil
}

func (r *Repository) ScheduleNotification(ctx context.Context, orgID, assignmentID int64, kind string, sendAt time.Time) error {
	query := `
		INSERT INTO scheduled_notifications (org_id, assignment_id, type, send_at)
		VALUES ($1, $2, $3, $4)
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	if _, err := r.dbpool.ExecContext(ctx, query, orgID, assignmentID, kind, sendAt); err != nil {
		return err
	}

	return nil
}
