package model

import (
	"time"
)

const (
	AuditKindRequest   = "request"
	AuditKindOrder     = "order"
	AuditKindViolation = "risk_violation"
	AuditKindLifecycle = "lifecycle"
)

// AuditLog 代表一次完整的操作审计记录
type AuditLog struct {
	ID        string `json:"id"`                  // 唯一 ID (UUID)
	Kind      string `json:"kind"`                // request / order / risk_violation / lifecycle
	Strategy  string `json:"strategy,omitempty"`  // 触发的策略
	Ticker    string `json:"ticker,omitempty"`    // 相关市场
	Method    string `json:"method,omitempty"`    // HTTP 方法
	Path      string `json:"path,omitempty"`      // 请求路径
	IP        string `json:"ip,omitempty"`        // 客户端 IP
	UserAgent string `json:"user_agent,omitempty"`

	RequestBody  string `json:"request_body,omitempty"` // 请求体 (脱敏后)
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	LatencyMs    int64  `json:"latency_ms,omitempty"`

	// 业务上下文：订单参数、交易所错误、风控结果等
	Context map[string]interface{} `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}

// AuditFilter 审计查询条件，空字段不过滤
type AuditFilter struct {
	Kind     string
	Strategy string
	Limit    int
	From     *time.Time
	To       *time.Time
}

// Match reports whether entry passes every set field of f.
func (f AuditFilter) Match(entry *AuditLog) bool {
	if entry == nil {
		return false
	}
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	if f.Strategy != "" && entry.Strategy != f.Strategy {
		return false
	}
	if f.From != nil && entry.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && entry.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
