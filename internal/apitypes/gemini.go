// Package apitypes holds the Gemini generateContent wire contract.
package apitypes

import "strings"

// Part is one text fragment inside a content turn.
type Part struct {
	Text string `json:"text"`
}

// Content is one conversation turn in the provider's native shape.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerateContentRequest is the upstream request body.
type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

// Candidate is one generated result item.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// GenerateContentResponse is the upstream success body.
type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// FirstCandidateText returns the first non-empty text part of the first
// candidate, or ok=false when the response carries no usable text.
func (r *GenerateContentResponse) FirstCandidateText() (string, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return "", false
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if strings.TrimSpace(p.Text) != "" {
			return p.Text, true
		}
	}
	return "", false
}

// HasText reports whether any part in the contents has non-empty text.
func HasText(contents []Content) bool {
	for _, c := range contents {
		for _, p := range c.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		}
	}
	return false
}
