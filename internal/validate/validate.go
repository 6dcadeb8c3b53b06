// Package validate checks inbound generation payloads against one schema per
// kind before anything is priced or reserved. Cost-like fields are stripped,
// never honored: the cost model is the only authority on price.
package validate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

const (
	maxPromptLen     = 2000
	maxTextLen       = 5000
	maxVoiceIDLen    = 100
	maxURLLen        = 2048
	maxDurationSecs  = 1800
	maxErrorFieldLen = 64
)

// Payload carries the normalized fields of an accepted request.
type Payload struct {
	Prompt          string  `json:"prompt,omitempty"`
	Text            string  `json:"text,omitempty"`
	ImageURL        string  `json:"image_url,omitempty"`
	AudioURL        string  `json:"audio_url,omitempty"`
	VoiceID         string  `json:"voice_id,omitempty"`
	AspectRatio     string  `json:"aspect_ratio,omitempty"`
	Resolution      string  `json:"resolution,omitempty"`
	Style           string  `json:"style,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// field rules per kind. A field may be required, optional, or absent; absent
// fields in the payload are rejected so junk cannot ride through to the
// worker.
type rule struct {
	required []string
	optional []string
}

var schemas = map[domain.Kind]rule{
	domain.KindFirstFrame: {required: []string{"prompt"}, optional: []string{"aspect_ratio", "style"}},
	domain.KindFrame:      {required: []string{"prompt"}, optional: []string{"aspect_ratio", "style", "image_url"}},
	domain.KindScript:     {required: []string{"prompt"}, optional: []string{"style"}},
	domain.KindLipSync:    {required: []string{"image_url", "audio_url", "duration_seconds"}},
	domain.KindSpeech:     {required: []string{"text", "duration_seconds"}, optional: []string{"voice_id"}},
	domain.KindBRoll:      {required: []string{"prompt", "duration_seconds"}, optional: []string{"aspect_ratio", "resolution"}},
	domain.KindAnimate:    {required: []string{"image_url"}, optional: []string{"prompt"}},
}

// Cost-like keys are silently dropped wherever they appear. The client has no
// say in what a request costs.
var strippedFields = map[string]struct{}{
	"credits_cost": {},
	"cost":         {},
	"credits":      {},
	"price":        {},
}

var (
	aspectRatios = map[string]struct{}{"16:9": {}, "9:16": {}, "1:1": {}}
	resolutions  = map[string]struct{}{"720p": {}, "1080p": {}}
	styles       = map[string]struct{}{"realistic": {}, "cinematic": {}, "anime": {}, "casual": {}, "professional": {}}
)

// Validate checks raw against the schema for kind and returns the typed
// payload. A nil error means every field passed; otherwise the returned
// *domain.ValidationError lists each offending field.
func Validate(kind domain.Kind, raw json.RawMessage) (Payload, error) {
	schema, ok := schemas[kind]
	if !ok {
		return Payload{}, &domain.ValidationError{Issues: []domain.FieldIssue{
			{Field: "type", Reason: fmt.Sprintf("unknown generation kind %q", truncate(string(kind), maxErrorFieldLen))},
		}}
	}

	var fields map[string]json.RawMessage
	if len(raw) == 0 {
		fields = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(raw, &fields); err != nil {
		return Payload{}, &domain.ValidationError{Issues: []domain.FieldIssue{
			{Field: "payload", Reason: "must be a JSON object"},
		}}
	}

	for name := range strippedFields {
		delete(fields, name)
	}

	allowed := make(map[string]struct{}, len(schema.required)+len(schema.optional))
	for _, f := range schema.required {
		allowed[f] = struct{}{}
	}
	for _, f := range schema.optional {
		allowed[f] = struct{}{}
	}

	var issues []domain.FieldIssue
	for name := range fields {
		if _, ok := allowed[name]; !ok {
			issues = append(issues, domain.FieldIssue{Field: truncate(name, maxErrorFieldLen), Reason: "unknown field"})
		}
	}
	for _, name := range schema.required {
		if _, ok := fields[name]; !ok {
			issues = append(issues, domain.FieldIssue{Field: name, Reason: "required"})
		}
	}
	if len(issues) > 0 {
		return Payload{}, &domain.ValidationError{Issues: issues}
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, &domain.ValidationError{Issues: []domain.FieldIssue{
			{Field: "payload", Reason: "field types do not match schema"},
		}}
	}
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.Text = strings.TrimSpace(p.Text)

	issues = append(issues, checkStrings(fields, p)...)
	issues = append(issues, checkURLs(fields, p)...)
	issues = append(issues, checkEnums(fields, p)...)
	if _, ok := fields["duration_seconds"]; ok {
		if p.DurationSeconds <= 0 || p.DurationSeconds > maxDurationSecs {
			issues = append(issues, domain.FieldIssue{
				Field:  "duration_seconds",
				Reason: fmt.Sprintf("must be greater than 0 and at most %d", maxDurationSecs),
			})
		}
	}
	if len(issues) > 0 {
		return Payload{}, &domain.ValidationError{Issues: issues}
	}
	return p, nil
}

func checkStrings(fields map[string]json.RawMessage, p Payload) []domain.FieldIssue {
	var issues []domain.FieldIssue
	if _, ok := fields["prompt"]; ok {
		if p.Prompt == "" {
			issues = append(issues, domain.FieldIssue{Field: "prompt", Reason: "must not be empty"})
		} else if len(p.Prompt) > maxPromptLen {
			issues = append(issues, domain.FieldIssue{Field: "prompt", Reason: fmt.Sprintf("longer than %d characters", maxPromptLen)})
		}
	}
	if _, ok := fields["text"]; ok {
		if p.Text == "" {
			issues = append(issues, domain.FieldIssue{Field: "text", Reason: "must not be empty"})
		} else if len(p.Text) > maxTextLen {
			issues = append(issues, domain.FieldIssue{Field: "text", Reason: fmt.Sprintf("longer than %d characters", maxTextLen)})
		}
	}
	if _, ok := fields["voice_id"]; ok && len(p.VoiceID) > maxVoiceIDLen {
		issues = append(issues, domain.FieldIssue{Field: "voice_id", Reason: fmt.Sprintf("longer than %d characters", maxVoiceIDLen)})
	}
	return issues
}

func checkURLs(fields map[string]json.RawMessage, p Payload) []domain.FieldIssue {
	var issues []domain.FieldIssue
	for name, value := range map[string]string{"image_url": p.ImageURL, "audio_url": p.AudioURL} {
		if _, ok := fields[name]; !ok {
			continue
		}
		if reason := checkFetchableURL(value); reason != "" {
			issues = append(issues, domain.FieldIssue{Field: name, Reason: reason})
		}
	}
	return issues
}

func checkFetchableURL(raw string) string {
	if raw == "" {
		return "must not be empty"
	}
	if len(raw) > maxURLLen {
		return fmt.Sprintf("longer than %d characters", maxURLLen)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "must be an absolute URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "scheme must be http or https"
	}
	return ""
}

func checkEnums(fields map[string]json.RawMessage, p Payload) []domain.FieldIssue {
	var issues []domain.FieldIssue
	if _, ok := fields["aspect_ratio"]; ok {
		if _, valid := aspectRatios[p.AspectRatio]; !valid {
			issues = append(issues, domain.FieldIssue{Field: "aspect_ratio", Reason: "must be one of 16:9, 9:16, 1:1"})
		}
	}
	if _, ok := fields["resolution"]; ok {
		if _, valid := resolutions[p.Resolution]; !valid {
			issues = append(issues, domain.FieldIssue{Field: "resolution", Reason: "must be one of 720p, 1080p"})
		}
	}
	if _, ok := fields["style"]; ok {
		if _, valid := styles[p.Style]; !valid {
			issues = append(issues, domain.FieldIssue{Field: "style", Reason: "unsupported style"})
		}
	}
	return issues
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
