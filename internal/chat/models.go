package chat

import "strings"

// nativeReasoningMarkers identify model families whose APIs stream a
// dedicated reasoning field. Everything else is instructed to produce
// tagged reasoning text instead.
var nativeReasoningMarkers = []string{
	"deepseek-r1",
	":thinking",
	"reasoning",
	"qwq",
}

// IsNativeReasoningModel reports whether the model id names a native
// reasoning model.
func IsNativeReasoningModel(model string) bool {
	id := strings.ToLower(model)
	for _, marker := range nativeReasoningMarkers {
		if strings.Contains(id, marker) {
			return true
		}
	}
	// OpenAI o-series ids look like "openai/o1-mini" or "o3".
	name := id
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		name = id[idx+1:]
	}
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if name == prefix || strings.HasPrefix(name, prefix+"-") {
			return true
		}
	}
	return false
}
