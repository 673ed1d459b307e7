package relayserver

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgefn/gemini-relay/internal/logx"
	"github.com/edgefn/gemini-relay/internal/requestid"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestid.HeaderKey))
		if id == "" {
			id = requestid.Gen()
		}
		c.Header(requestid.HeaderKey, id)
		c.Set(requestid.HeaderKey, id)
		c.Next()
	}
}

func accessLogger(l *log.Logger, color bool) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)

		fields := map[string]any{}
		if v := c.GetString(requestid.HeaderKey); v != "" {
			fields["request_id"] = v
		}
		if v, ok := c.Get("gmr.shape"); ok {
			fields["shape"] = v
		}
		if v, ok := c.Get("gmr.model"); ok {
			fields["model"] = v
		}
		if v, ok := c.Get("gmr.class"); ok {
			fields["class"] = v
		}
		if v, ok := c.Get("gmr.upstream_status"); ok {
			fields["upstream_status"] = v
		}
		if v, ok := c.Get("gmr.latency_ms"); ok {
			fields["latency_ms"] = v
		} else {
			fields["latency_ms"] = latency.Milliseconds()
		}

		l.Println(logx.FormatRequestLine(time.Now(), status, latency, c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
	}
}

// recovery converts panics to the InternalError projection. The caller
// never sees a stack trace or internal detail.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "internal server error",
				})
			}
		}()
		c.Next()
	}
}
