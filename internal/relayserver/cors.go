package relayserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// corsMiddleware sets cross-origin headers on every response, success and
// error alike, and answers preflight with 200 and no body. When
// allowedOrigins is empty any origin is allowed; otherwise the request
// Origin must match the list to receive the headers.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := "*"
		if len(originsSet) > 0 {
			if _, ok := originsSet[origin]; !ok {
				if c.Request.Method == http.MethodOptions {
					c.AbortWithStatus(http.StatusOK)
					return
				}
				c.Next()
				return
			}
			allowed = origin
		}
		c.Header("Access-Control-Allow-Origin", allowed)
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
