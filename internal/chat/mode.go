package chat

// ModeInstruction carries the sampling parameters and system text
// merged into the outbound request. Derived once per turn, never
// stored.
type ModeInstruction struct {
	Temperature float64
	MaxTokens   int // 0 means no cap
	System      string
}

const (
	fastSystemText = "You are in FAST mode. Be highly concise and direct in your response."

	thinkingNativeSystemText = "You are in THINKING mode. Work through the problem with your full internal step-by-step reasoning before giving the final answer."

	thinkingSystemText = "You are in THINKING mode. Before answering, wrap your step-by-step reasoning inside <think>...</think> XML tags. After the closing </think> tag, provide your clear final answer. The think section must never be empty."

	autoSystemText = "You are in AUTO mode. First, analyze the user's prompt. If it requires complex math, deep reasoning, logic puzzles, or non-trivial coding, you MUST place your step-by-step logical reasoning inside <think>...</think> XML tags before providing the final answer. If simple, answer directly without tags."

	proSystemText = "You are in PRO mode. Provide an expert, nuanced, and highly detailed professional response."

	offlineClause = "You are operating in an air-gapped, offline environment. You DO NOT have access to the internet. Do not claim to have searched the web or provide fabricated internet links."
)

// Instruction computes the mode policy for one turn. Pure function;
// native-reasoning models receive no tag instruction in thinking mode
// because their API exposes reasoning deltas directly.
func Instruction(mode Mode, offline bool, nativeReasoning bool) ModeInstruction {
	var instr ModeInstruction
	switch mode {
	case ModeFast:
		instr = ModeInstruction{Temperature: 0.7, MaxTokens: 512, System: fastSystemText}
	case ModeThinking:
		if nativeReasoning {
			instr = ModeInstruction{Temperature: 0.3, System: thinkingNativeSystemText}
		} else {
			instr = ModeInstruction{Temperature: 0.3, System: thinkingSystemText}
		}
	case ModePro:
		instr = ModeInstruction{Temperature: 0.5, System: proSystemText}
	default:
		instr = ModeInstruction{Temperature: 0.5, System: autoSystemText}
	}

	if offline {
		if instr.System != "" {
			instr.System += "\n" + offlineClause
		} else {
			instr.System = offlineClause
		}
	}
	return instr
}

// ApplyInstruction merges the instruction text into the message list:
// concatenated onto an existing leading system message, otherwise
// inserted as a new one. The input slice is not modified; callers apply
// the merge exactly once per turn.
func ApplyInstruction(messages []Message, instr ModeInstruction) []Message {
	if instr.System == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		merged := messages[0]
		merged.Content = TextContent(messages[0].Content.Text() + "\n" + instr.System)
		out = append(out, merged)
		out = append(out, messages[1:]...)
		return out
	}
	out = append(out, Message{Role: RoleSystem, Content: TextContent(instr.System)})
	out = append(out, messages...)
	return out
}
