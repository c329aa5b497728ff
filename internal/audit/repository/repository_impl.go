package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/folio/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, org_id, actor_type, actor_id, action, target_type, target_id,
			metadata, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrgID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, org_id, actor_type, actor_id, action, target_type, target_id,
		metadata, ip_address, user_agent, created_at
		FROM audit_logs WHERE org_id = ?`)
	args := []any{filter.OrgID}

	appendEq := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			query.WriteString(" AND " + column + " = ?")
			args = append(args, value)
		}
	}
	appendEq("action", filter.Action)
	appendEq("target_type", filter.TargetType)
	appendEq("target_id", filter.TargetID)
	appendEq("actor_type", filter.ActorType)

	if filter.StartAt != nil {
		query.WriteString(" AND created_at >= ?")
		args = append(args, filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		query.WriteString(" AND created_at <= ?")
		args = append(args, filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		query.WriteString(" AND (created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, filter.Cursor.CreatedAt.UTC(), filter.Cursor.CreatedAt.UTC(), filter.Cursor.ID)
	}

	query.WriteString(" ORDER BY created_at DESC, id DESC")
	if filter.Limit > 0 {
		// one extra row tells the caller whether another page exists
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit+1)
	}

	var logs []*domain.AuditLog
	if err := db.WithContext(ctx).Raw(query.String(), args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
