package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgefn/gemini-relay/internal/apitypes"
	"github.com/edgefn/gemini-relay/internal/config"
)

// inboundBody is the superset of accepted client payloads. Exactly one of
// the three shapes must be present: prompt, device1+device2, or contents.
type inboundBody struct {
	Prompt   string             `json:"prompt"`
	Device1  string             `json:"device1"`
	Device2  string             `json:"device2"`
	Contents []apitypes.Content `json:"contents"`
}

// ParsePayload decodes the client body and normalizes it to the
// provider's structured contents shape. It never mutates its input and
// performs no I/O; rejection comes back as *BadRequestError, not a panic.
// The returned shape names which input form matched.
func ParsePayload(body []byte, accepted func(string) bool) ([]apitypes.Content, string, *BadRequestError) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, "", &BadRequestError{Msg: "request body is empty"}
	}
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, "", &BadRequestError{Msg: "request body is not valid JSON"}
	}

	if len(in.Contents) > 0 && accepted(config.ShapeContents) {
		if !apitypes.HasText(in.Contents) {
			return nil, "", &BadRequestError{
				Field: "contents",
				Msg:   "must include at least one part with non-empty text",
			}
		}
		out := make([]apitypes.Content, len(in.Contents))
		copy(out, in.Contents)
		for i := range out {
			if strings.TrimSpace(out[i].Role) == "" {
				out[i].Role = "user"
			}
		}
		return out, config.ShapeContents, nil
	}

	if strings.TrimSpace(in.Prompt) != "" && accepted(config.ShapePrompt) {
		return promptContents(in.Prompt), config.ShapePrompt, nil
	}

	d1, d2 := strings.TrimSpace(in.Device1), strings.TrimSpace(in.Device2)
	if (d1 != "" || d2 != "") && accepted(config.ShapeDeviceCompare) {
		if d1 == "" {
			return nil, "", &BadRequestError{Field: "device1", Msg: "is required"}
		}
		if d2 == "" {
			return nil, "", &BadRequestError{Field: "device2", Msg: "is required"}
		}
		return promptContents(ComparePrompt(d1, d2)), config.ShapeDeviceCompare, nil
	}

	return nil, "", &BadRequestError{
		Msg: `request body must include "prompt", "device1"+"device2", or "contents"`,
	}
}

// ComparePrompt builds the two-device comparison prompt. Both device
// names appear verbatim in the generated text.
func ComparePrompt(device1, device2 string) string {
	return fmt.Sprintf(
		"Compare the following two devices for a typical buyer. "+
			"Cover connectivity, compatibility and common pitfalls, and finish with a recommendation.\n\n"+
			"Device 1: %s\nDevice 2: %s",
		device1, device2,
	)
}

func promptContents(text string) []apitypes.Content {
	return []apitypes.Content{
		{Role: "user", Parts: []apitypes.Part{{Text: text}}},
	}
}
