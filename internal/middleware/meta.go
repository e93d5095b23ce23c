package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey  = "response_meta"
	requestStartKey  = "request_start"
	processingTimeMs = "processing_time_ms"
)

// WithResponseMeta initialises response metadata storage on the request
// context. Handlers attach it to the envelope via ExtractMeta.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// ExtractMeta returns the metadata map stored on the context, stamped with
// the elapsed processing time. Safe to call on a context that never passed
// through WithResponseMeta.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	typed, ok := meta.(map[string]interface{})
	if !ok {
		return nil
	}
	if start, exists := c.Get(requestStartKey); exists {
		if t, ok := start.(time.Time); ok {
			typed[processingTimeMs] = time.Since(t).Milliseconds()
		}
	}
	return typed
}
