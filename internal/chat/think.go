package chat

import "strings"

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"

	// minThinkChars is the smallest trimmed think section accepted as a
	// real reasoning trace. Some models emit the tags with nothing
	// useful inside; enforcement rewrites those turns.
	minThinkChars = 10
)

// thinkEncoder rewrites the normalized event stream into a single
// textual stream where reasoning deltas are wrapped in a balanced
// <think>...</think> pair. It is owned by one turn and never reused.
type thinkEncoder struct {
	open bool
}

// Reasoning returns the outward text for a reasoning delta, opening the
// tag before the first one.
func (e *thinkEncoder) Reasoning(text string) string {
	if !e.open {
		e.open = true
		return thinkOpenTag + "\n" + text
	}
	return text
}

// Content returns the outward text for a content delta, closing the tag
// first if reasoning was being emitted.
func (e *thinkEncoder) Content(text string) string {
	if e.open {
		e.open = false
		return "\n" + thinkCloseTag + "\n\n" + text
	}
	return text
}

// Finish closes the tag if the stream terminated while it was open.
// The returned text must be appended to the outward stream.
func (e *thinkEncoder) Finish() string {
	if e.open {
		e.open = false
		return "\n" + thinkCloseTag
	}
	return ""
}

// EnforceThinking inspects the fully assembled text of a thinking-mode
// turn and guarantees a non-empty, visibly labeled reasoning section.
// Models sometimes comply with the tag instruction only nominally; when
// the tags are missing or the section is effectively empty, the text is
// rewritten so the user sees both a reasoning section and a standalone
// final answer. The second return reports whether a correction was
// made.
func EnforceThinking(text string) (string, bool) {
	openIdx := strings.Index(text, thinkOpenTag)
	if openIdx < 0 {
		return wrapAndRepeat(text), true
	}

	inner, balanced := thinkInner(text, openIdx)
	if balanced && len(strings.TrimSpace(inner)) >= minThinkChars {
		return text, false
	}

	cleaned := strings.ReplaceAll(text, thinkOpenTag, "")
	cleaned = strings.ReplaceAll(cleaned, thinkCloseTag, "")
	cleaned = strings.TrimSpace(cleaned)
	return wrapAndRepeat(cleaned), true
}

func thinkInner(text string, openIdx int) (string, bool) {
	rest := text[openIdx+len(thinkOpenTag):]
	closeIdx := strings.Index(rest, thinkCloseTag)
	if closeIdx < 0 {
		return "", false
	}
	return rest[:closeIdx], true
}

func wrapAndRepeat(text string) string {
	return thinkOpenTag + "\n" + text + "\n" + thinkCloseTag + "\n\n" + text
}
