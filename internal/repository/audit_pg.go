package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

// auditRecord is the audit_logs row.
type auditRecord struct {
	ID           string `gorm:"primaryKey"`
	Kind         string `gorm:"index:idx_audit_logs_kind"`
	Strategy     string `gorm:"index:idx_audit_logs_strategy,priority:1"`
	Ticker       string
	Method       string
	Path         string
	IP           string
	UserAgent    string
	RequestBody  string
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Context      []byte    `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"index:idx_audit_logs_strategy,priority:2,sort:desc"`
}

func (auditRecord) TableName() string {
	return "audit_logs"
}

func toAuditRecord(entry *model.AuditLog) auditRecord {
	ctxJSON, _ := json.Marshal(entry.Context)
	return auditRecord{
		ID:           entry.ID,
		Kind:         entry.Kind,
		Strategy:     entry.Strategy,
		Ticker:       entry.Ticker,
		Method:       entry.Method,
		Path:         entry.Path,
		IP:           entry.IP,
		UserAgent:    entry.UserAgent,
		RequestBody:  entry.RequestBody,
		StatusCode:   entry.StatusCode,
		ResponseBody: entry.ResponseBody,
		LatencyMs:    entry.LatencyMs,
		Context:      ctxJSON,
		CreatedAt:    entry.CreatedAt,
	}
}

func (r auditRecord) toModel() *model.AuditLog {
	entry := &model.AuditLog{
		ID:           r.ID,
		Kind:         r.Kind,
		Strategy:     r.Strategy,
		Ticker:       r.Ticker,
		Method:       r.Method,
		Path:         r.Path,
		IP:           r.IP,
		UserAgent:    r.UserAgent,
		RequestBody:  r.RequestBody,
		StatusCode:   r.StatusCode,
		ResponseBody: r.ResponseBody,
		LatencyMs:    r.LatencyMs,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Context) > 0 {
		_ = json.Unmarshal(r.Context, &entry.Context)
	}
	if entry.Context == nil {
		entry.Context = map[string]interface{}{}
	}
	return entry
}

type PostgresAuditRepo struct {
	db *gorm.DB
}

func NewPostgresAuditRepo(db *gorm.DB) (*PostgresAuditRepo, error) {
	if err := db.AutoMigrate(&auditRecord{}); err != nil {
		return nil, err
	}
	return &PostgresAuditRepo{db: db}, nil
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	if entry == nil {
		return nil
	}
	rec := toAuditRecord(entry)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

func (r *PostgresAuditRepo) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Model(&auditRecord{})
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Strategy != "" {
		q = q.Where("strategy = ?", filter.Strategy)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", *filter.To)
	}

	var rows []auditRecord
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*model.AuditLog, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	return records, nil
}

// Cleanup deletes entries older than olderThan.
func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&auditRecord{}).Error
}
