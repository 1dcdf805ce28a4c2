package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

const ContextAuditLog = "audit_log"

// captureWriter tees the response body into buf.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// AuditLogger accepts finished audit entries. Log must not block.
type AuditLogger interface {
	Log(entry *model.AuditLog)
}

// AuditMiddleware records mutating requests. Reads are skipped.
func AuditMiddleware(sink AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		entry := newRequestAudit(c)
		c.Header("X-Request-ID", entry.ID)
		c.Set(ContextAuditLog, entry)

		reqBody := drainBody(c.Request)
		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		path := c.Request.URL.Path
		entry.Strategy = c.Param("name")
		entry.StatusCode = w.Status()
		entry.RequestBody = redactAuditBody(path, reqBody)
		entry.ResponseBody = redactAuditBody(path, w.buf.Bytes())
		entry.LatencyMs = time.Since(entry.CreatedAt).Milliseconds()
		sink.Log(entry)
	}
}

func newRequestAudit(c *gin.Context) *model.AuditLog {
	return &model.AuditLog{
		ID:        uuid.NewString(),
		Kind:      model.AuditKindRequest,
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		CreatedAt: time.Now(),
		Context:   map[string]interface{}{},
	}
}

// drainBody reads the request body and puts an equivalent reader back for binding.
func drainBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	raw, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw
}

// AddAuditContext 给当前请求的审计记录附加业务字段
func AddAuditContext(c *gin.Context, key string, value interface{}) {
	v, ok := c.Get(ContextAuditLog)
	if !ok {
		return
	}
	if entry, ok := v.(*model.AuditLog); ok {
		entry.Context[key] = value
	}
}

// maxAuditBody caps what is stored per body.
const maxAuditBody = 4 << 10

// 操作接口里可能带密钥的路径
var sensitivePrefixes = []string{"/v1/risk", "/v1/panic", "/v1/strategies"}

var sensitiveKeys = map[string]struct{}{
	"api_key":          {},
	"api_key_id":       {},
	"private_key":      {},
	"private_key_path": {},
	"signature":        {},
	"access_signature": {},
	"password":         {},
	"dsn":              {},
	"admin_key":        {},
}

func redactAuditBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	out := body
	if isSensitivePath(path) {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return "[redacted]"
		}
		redacted, err := json.Marshal(redact(data))
		if err != nil {
			return "[redacted]"
		}
		out = redacted
	}
	if len(out) > maxAuditBody {
		return string(out[:maxAuditBody]) + "...(truncated)"
	}
	return string(out)
}

func isSensitivePath(path string) bool {
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// redact returns v with the values of sensitive keys masked, at any depth.
func redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for key, inner := range val {
			if _, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
				val[key] = "***"
				continue
			}
			val[key] = redact(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = redact(inner)
		}
		return val
	default:
		return v
	}
}
