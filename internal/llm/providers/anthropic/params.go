package anthropicprovider

import (
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"ponder/internal/llm/core"
)

// defaultMaxTokens is used when callers do not provide an explicit token budget.
const defaultMaxTokens = 1024

// mapStopReason maps Anthropic stop reasons to canonical values.
func mapStopReason(reason string) core.StopReason {
	switch reason {
	case "max_tokens":
		return core.StopReasonLength
	case "refusal":
		return core.StopReasonError
	default:
		return core.StopReasonStop
	}
}

// toSDKParams validates and converts a canonical request into SDK params.
func toSDKParams(req *core.Request) (anthropic.MessageNewParams, error) {
	if err := core.ValidateRequest(req); err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  toSDKMessages(req.Messages),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params, nil
}

// toSDKMessages converts history into SDK messages, merging consecutive turns
// of the same role since the API requires alternation.
func toSDKMessages(messages []core.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var (
		role   core.Role
		blocks []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == core.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role != role {
			flush()
			role = msg.Role
		}
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	flush()
	return out
}
