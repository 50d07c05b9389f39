// Package skills routes specially prefixed user text to leaf skills
// before it reaches the upstream chat client.
package skills

import (
	"context"
	"strings"

	"llmhub/internal/imagegen"
)

// ImagePrefix triggers the image-generation skill.
const ImagePrefix = "@generate_image"

// Skill produces the assistant text for one intercepted turn. Skills
// never fail: error conditions come back as user-visible text.
type Skill func(ctx context.Context) string

// Dispatcher checks user input for skill triggers.
type Dispatcher struct {
	image *imagegen.Generator
}

func NewDispatcher(image *imagegen.Generator) *Dispatcher {
	return &Dispatcher{image: image}
}

// Intercept returns the skill for the given user text, or false when
// the text should flow to the upstream chat client instead.
func (d *Dispatcher) Intercept(text string) (Skill, bool) {
	if d == nil || d.image == nil {
		return nil, false
	}
	if !strings.HasPrefix(text, ImagePrefix) {
		return nil, false
	}
	query := strings.TrimSpace(strings.TrimPrefix(text, ImagePrefix))
	if query == "" {
		return nil, false
	}
	return func(ctx context.Context) string {
		return d.image.Generate(ctx, query)
	}, true
}
