package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
}

// AuditService writes audit entries asynchronously to a JSONL file and an
// optional repository, keeping the latest entries in memory.
type AuditService struct {
	logChan chan *model.AuditLog
	logFile *os.File
	buffer  *auditRing
	repo    AuditRepo
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditService starts the writer. An empty logDir disables the file sink.
func NewAuditService(logDir string, repo AuditRepo) (*AuditService, error) {
	svc := &AuditService{
		logChan: make(chan *model.AuditLog, 1000), // 缓冲区 1000
		buffer:  newAuditRing(1000),
		repo:    repo,
		log:     logger.Component("audit"),
		done:    make(chan struct{}),
	}

	if logDir != "" {
		f, err := openAuditFile(logDir, time.Now())
		if err != nil {
			return nil, err
		}
		svc.logFile = f
	}
	go svc.drain()

	return svc, nil
}

func (s *AuditService) Log(entry *model.AuditLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.buffer.Add(entry)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.logChan <- entry:
	default:
		// 缓冲区满，丢弃日志以保护主流程
		s.log.Warn("audit log buffer full, dropping entry", "kind", entry.Kind)
	}
}

func (s *AuditService) RecordViolation(v model.RiskViolation) {
	s.Log(&model.AuditLog{
		Kind:     model.AuditKindViolation,
		Strategy: v.Strategy,
		Ticker:   v.Ticker,
		Context: map[string]interface{}{
			"check":    string(v.Check),
			"actual":   v.Actual,
			"limit":    v.Limit,
			"order_id": v.OrderID,
		},
		CreatedAt: v.Timestamp,
	})
}

// RecordOrder audits one order action and its outcome.
func (s *AuditService) RecordOrder(strategy, action string, order model.Order, err error) {
	ctx := map[string]interface{}{
		"action":          action,
		"order_id":        order.OrderID,
		"client_order_id": order.ClientOrderID,
		"side":            string(order.Side),
		"order_action":    string(order.Action),
		"price":           order.Price(),
		"count":           order.RemainingCount,
	}
	if err != nil {
		ctx["error"] = err.Error()
	}
	s.Log(&model.AuditLog{
		Kind:     model.AuditKindOrder,
		Strategy: strategy,
		Ticker:   order.Ticker,
		Context:  ctx,
	})
}

func (s *AuditService) RecordLifecycle(strategy, event string, fields map[string]interface{}) {
	ctx := map[string]interface{}{"event": event}
	for k, v := range fields {
		ctx[k] = v
	}
	s.Log(&model.AuditLog{
		Kind:     model.AuditKindLifecycle,
		Strategy: strategy,
		Context:  ctx,
	})
}

func (s *AuditService) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, filter)
		if err == nil {
			return records, nil
		}
		s.log.Warn("audit repo list failed, serving from memory", "error", err)
	}
	return s.buffer.List(filter), nil
}

// openAuditFile opens the day's JSONL file under dir for appending.
func openAuditFile(dir string, day time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("audit-%s.jsonl", day.Format(time.DateOnly)))
	return os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// drain persists queued entries until logChan is closed.
func (s *AuditService) drain() {
	defer close(s.done)
	var enc *json.Encoder
	if s.logFile != nil {
		enc = json.NewEncoder(s.logFile)
	}
	ctx := context.Background()
	for entry := range s.logChan {
		if s.repo != nil {
			if err := s.repo.Insert(ctx, entry); err != nil {
				s.log.Error("audit repo insert failed", "error", err, "kind", entry.Kind)
			}
		}
		if enc == nil {
			continue
		}
		if err := enc.Encode(entry); err != nil {
			s.log.Error("audit file write failed", "error", err)
		}
	}
}

// Close flushes pending entries. Idempotent.
func (s *AuditService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.logChan)
	s.mu.Unlock()

	<-s.done
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			return fmt.Errorf("close audit file: %w", err)
		}
	}
	return nil
}

// auditRing keeps the newest entries for List when the repo is unavailable.
type auditRing struct {
	mu    sync.Mutex
	slots []*model.AuditLog
	head  int // next write position
	n     int
}

func newAuditRing(size int) *auditRing {
	if size <= 0 {
		size = 1000
	}
	return &auditRing{slots: make([]*model.AuditLog, size)}
}

func (r *auditRing) Add(entry *model.AuditLog) {
	r.mu.Lock()
	r.slots[r.head] = entry
	r.head = (r.head + 1) % len(r.slots)
	if r.n < len(r.slots) {
		r.n++
	}
	r.mu.Unlock()
}

// List returns matching entries, newest first.
func (r *auditRing) List(filter model.AuditFilter) []*model.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > len(r.slots) {
		limit = len(r.slots)
	}
	var out []*model.AuditLog
	for i := 1; i <= r.n && len(out) < limit; i++ {
		e := r.slots[(r.head-i+len(r.slots))%len(r.slots)]
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
