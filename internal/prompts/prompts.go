// Package prompts resolves specialist instruction text from the hosted
// prompt-management service, with a per-slot TTL cache and build-time
// fallback defaults.
package prompts

import "context"

// Prompt slot names used by the specialists.
const (
	SlotOnboarding    = "partner-onboarding"
	SlotServicing     = "partner-servicing"
	SlotCoaching      = "partner-coaching"
	SlotPhotoAnalysis = "partner-photo-analysis"
	SlotExtraction    = "partner-extraction"
)

// Prompt is a versioned instruction text fetched from the prompt service.
type Prompt struct {
	Name    string `json:"name"`
	Content string `json:"prompt"`
	Version int    `json:"version"`
}

// Resolver fetches a prompt by slot name. A failed fetch returns an error;
// callers fall back to Default so a prompt outage never fails a turn.
type Resolver interface {
	GetPrompt(ctx context.Context, name string) (Prompt, error)
}

// Resolve fetches the named prompt, falling back to the embedded default on
// any error. The returned prompt always has usable content for the known
// slots.
func Resolve(ctx context.Context, r Resolver, name string) Prompt {
	if r != nil {
		p, err := r.GetPrompt(ctx, name)
		if err == nil && p.Content != "" {
			return p
		}
	}
	return Prompt{Name: name, Content: Default(name), Version: 0}
}
