package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wpptriage/internal/triage"
)

const promptTemplate = `You are a personal assistant that triages WhatsApp messages. Analyze the following open conversations and rank them by urgency.

Open conversations:
%s

Do the following:
1. Identify urgent conversations that need an immediate reply (emergencies, important requests, business or work questions).
2. Identify important conversations that need a reply soon (personal questions, scheduling).
3. Classify the rest as normal conversations that can wait.

Respond with JSON in exactly this shape:
{
    "urgent_conversations": [
        {
            "chat_id": "chat id",
            "chat_name": "chat name",
            "reason": "why it is urgent",
            "suggested_response": "a suitable reply"
        }
    ],
    "important_conversations": [
        {
            "chat_id": "chat id",
            "chat_name": "chat name",
            "reason": "why it is important",
            "suggested_response": "a suitable reply"
        }
    ],
    "normal_conversations": [
        {
            "chat_id": "chat id",
            "chat_name": "chat name",
            "reason": "why it is normal"
        }
    ],
    "summary": "overall summary and recommended actions",
    "total_conversations": <total number of conversations>
}

Do not return "suggested_response" for normal_conversations, only for urgent and important ones.
Return only valid JSON with no extra text.
`

// BuildPrompt embeds the summaries as indented JSON in the classification prompt.
func BuildPrompt(summaries []triage.Summary) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return "", fmt.Errorf("encode summaries: %w", err)
	}
	return fmt.Sprintf(promptTemplate, bytes.TrimRight(buf.Bytes(), "\n")), nil
}
