// Package relay performs the single outbound call to the generative-text
// provider and classifies its outcome.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgefn/gemini-relay/internal/apitypes"
	"github.com/edgefn/gemini-relay/internal/credstore"
)

// Class is the outcome classification of one upstream call.
type Class int

const (
	// ClassSuccess: 2xx with an extractable first candidate text.
	ClassSuccess Class = iota
	// ClassUpstreamError: provider answered with a non-success status.
	ClassUpstreamError
	// ClassMalformed: provider answered 2xx without the expected shape.
	ClassMalformed
)

const maxUpstreamBodyBytes = 8 << 20

// Result carries one classified upstream outcome back to the handler.
type Result struct {
	Class     Class
	Status    int
	Text      string
	Raw       json.RawMessage
	ErrBody   string
	URL       string // redacted, for logs and dumps
	LatencyMs int64
}

type Client struct {
	HTTP    *http.Client
	BaseURL string
	Timeout time.Duration
}

// Generate issues the generateContent call. Transport failures come back
// as *UnreachableError; provider-reported failures and malformed success
// bodies are classified in the Result, not returned as errors.
func (c *Client) Generate(ctx context.Context, model, key string, contents []apitypes.Content) (*Result, error) {
	start := time.Now()

	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("upstream base url is empty")
	}
	endpoint := base + "/models/" + url.PathEscape(model) + ":generateContent?key=" + url.QueryEscape(key)
	redacted := base + "/models/" + url.PathEscape(model) + ":generateContent?key=" + credstore.Mask(key)

	body, err := json.Marshal(apitypes.GenerateContentRequest{Contents: contents})
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UnreachableError{Err: redactErr(err, key)}
	}
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &UnreachableError{Err: redactErr(err, key)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return nil, &UnreachableError{Err: redactErr(err, key)}
	}

	res := &Result{
		Status:    resp.StatusCode,
		URL:       redacted,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Class = ClassUpstreamError
		res.ErrBody = string(respBody)
		return res, nil
	}

	var out apitypes.GenerateContentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		res.Class = ClassMalformed
		return res, nil
	}
	text, ok := out.FirstCandidateText()
	if !ok {
		res.Class = ClassMalformed
		return res, nil
	}
	res.Class = ClassSuccess
	res.Text = text
	res.Raw = respBody
	return res, nil
}

// redactErr strips the credential out of transport error text. url.Error
// embeds the full request URL, query string included.
func redactErr(err error, key string) error {
	if err == nil || strings.TrimSpace(key) == "" {
		return err
	}
	s := strings.ReplaceAll(err.Error(), url.QueryEscape(key), credstore.Mask(key))
	s = strings.ReplaceAll(s, key, credstore.Mask(key))
	return errors.New(s)
}
