package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// extractionSystemPrompt asks the model for a single JSON object and nothing
// else. Providers share this prompt and the parsing below; only the wire
// call (Complete) differs between them.
const extractionSystemPrompt = `You extract a pharmacy order from a customer's utterance.
Reply with ONLY a JSON object of this exact shape, no prose, no markdown fences:
{"items":[{"name":"<product name as said by the customer>","quantity":<integer>,"unit":"<unit, e.g. boxes>"}]}
If no product is mentioned, reply {"items":[]}.
If the customer does not state a quantity, use 1.
If the customer does not state a unit, use "boxes".`

// parseExtractionResult decodes raw into an ExtractionResult, defaulting
// quantity and unit per extractionSystemPrompt, and normalizing malformed
// or non-JSON output to an empty result rather than an error: extraction
// failure is never fatal to the call.
func parseExtractionResult(raw string) orchestrator.ExtractionResult {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return orchestrator.ExtractionResult{}
	}

	var parsed struct {
		Items []orchestrator.ExtractedItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return orchestrator.ExtractionResult{}
	}

	items := make([]orchestrator.ExtractedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if strings.TrimSpace(it.Name) == "" {
			continue
		}
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		if strings.TrimSpace(it.Unit) == "" {
			it.Unit = "boxes"
		}
		items = append(items, it)
	}
	return orchestrator.ExtractionResult{Items: items}
}

// extractionMessages assembles the shared system prompt, recent turns for
// context, and the final transcript as the user's latest utterance.
func extractionMessages(finalTranscript string, recentTurns []orchestrator.Message) []orchestrator.Message {
	messages := make([]orchestrator.Message, 0, len(recentTurns)+2)
	messages = append(messages, orchestrator.Message{Role: "system", Content: extractionSystemPrompt})
	messages = append(messages, recentTurns...)
	messages = append(messages, orchestrator.Message{Role: "user", Content: finalTranscript})
	return messages
}
