package relayserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgefn/gemini-relay/internal/config"
	"github.com/edgefn/gemini-relay/internal/relay"
	"github.com/edgefn/gemini-relay/internal/trafficdump"
)

// makeGenerateHandler builds the relay pipeline: guard, credential
// check, payload translation, upstream call, classification projection.
// Stages run in strict sequence; each failure is terminal. The guard
// stages finish before any credential read or network access.
func makeGenerateHandler(cfg *config.Config, st *state, client *relay.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct := c.GetHeader("Content-Type")
		if !strings.Contains(strings.ToLower(ct), "application/json") {
			writeGuardError(c, http.StatusBadRequest, "Content-Type must be application/json")
			return
		}

		body, err := readAllLimit(c.Request.Body, cfg.Relay.MaxBodyBytes)
		if err != nil {
			writeGuardError(c, http.StatusBadRequest, err.Error())
			return
		}

		if rec := trafficdump.FromContext(c); rec != nil {
			rec.Append("origin request", body)
		}

		contents, shape, perr := relay.ParsePayload(body, cfg.ShapeAccepted)
		if perr != nil {
			writeGuardError(c, http.StatusBadRequest, perr.Error())
			return
		}
		c.Set("gmr.shape", shape)
		c.Set("gmr.model", cfg.Upstream.Model)

		key := st.UpstreamKey()
		if strings.TrimSpace(key) == "" {
			// Fail closed before the network: an empty credential would
			// surface as a confusing upstream 400/403 otherwise.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "upstream credential is not configured",
			})
			return
		}

		res, err := client.Generate(c.Request.Context(), cfg.Upstream.Model, key, contents)
		if err != nil {
			var ue *relay.UnreachableError
			if errors.As(err, &ue) {
				c.Set("gmr.class", "unreachable")
				writeRelayError(c, http.StatusInternalServerError, "internal server error", "")
				return
			}
			c.Set("gmr.class", "internal")
			writeRelayError(c, http.StatusInternalServerError, "internal server error", "")
			return
		}
		c.Set("gmr.upstream_status", res.Status)
		c.Set("gmr.latency_ms", res.LatencyMs)

		if rec := trafficdump.FromContext(c); rec != nil {
			rec.Append("upstream request", []byte(res.URL))
			if len(res.Raw) > 0 {
				rec.Append("upstream response", res.Raw)
			} else {
				rec.Append("upstream response", []byte(res.ErrBody))
			}
		}

		switch res.Class {
		case relay.ClassSuccess:
			c.Set("gmr.class", "success")
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"content": res.Text,
			})
		case relay.ClassUpstreamError:
			c.Set("gmr.class", "upstream_error")
			status := res.Status
			if status < 100 || status > 599 {
				status = http.StatusBadGateway
			}
			details := ""
			if cfg.Relay.ExposeUpstreamErrorDetails {
				details = res.ErrBody
			}
			writeRelayError(c, status, fmt.Sprintf("upstream returned status %d", res.Status), details)
		default: // relay.ClassMalformed
			c.Set("gmr.class", "malformed")
			writeRelayError(c, http.StatusInternalServerError, "failed to generate response", "")
		}
	}
}

// writeGuardError is the pre-upstream rejection shape (405/400/config).
func writeGuardError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeRelayError is the post-guard projection shape: stable envelope
// with success=false regardless of which upstream path failed.
func writeRelayError(c *gin.Context, status int, msg, details string) {
	body := gin.H{
		"success": false,
		"error":   msg,
	}
	if strings.TrimSpace(details) != "" {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

func readAllLimit(rc io.ReadCloser, limit int64) ([]byte, error) {
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, rc, limit+1); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(buf.Len()) > limit {
		return nil, errors.New("request body too large")
	}
	return buf.Bytes(), nil
}
