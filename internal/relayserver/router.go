package relayserver

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgefn/gemini-relay/internal/config"
	"github.com/edgefn/gemini-relay/internal/relay"
	"github.com/edgefn/gemini-relay/internal/requestid"
	"github.com/edgefn/gemini-relay/internal/trafficdump"
	"github.com/edgefn/gemini-relay/internal/version"
)

func NewRouter(cfg *config.Config, st *state, client *relay.Client, access *log.Logger, accessColor bool) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(requestIDMiddleware())
	if access != nil {
		r.Use(accessLogger(access, accessColor))
	}
	r.Use(recovery())
	if cfg.Relay.AllowCrossOrigin {
		r.Use(corsMiddleware(cfg.Relay.AllowedOrigins))
	}
	if cfg.TrafficDump.Enabled {
		r.Use(trafficDumpMiddleware(cfg, st))
	}

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "version": version.Short()})
	})

	r.POST("/api/generate", makeGenerateHandler(cfg, st, client))

	return r
}

func trafficDumpMiddleware(cfg *config.Config, st *state) gin.HandlerFunc {
	tdcfg := trafficdump.Config{
		Enabled:  cfg.TrafficDump.Enabled,
		Dir:      cfg.TrafficDump.Dir,
		MaxBytes: cfg.TrafficDump.MaxBytes,
	}
	return func(c *gin.Context) {
		rec, err := trafficdump.Start(c, tdcfg, c.GetString(requestid.HeaderKey), st.UpstreamKey())
		if err != nil {
			c.Next()
			return
		}
		c.Next()
		if err := rec.Close(); err != nil {
			log.Printf("traffic dump write failed: %v", err)
		}
	}
}
