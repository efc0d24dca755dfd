package router

import "encoding/json"

// charsPerToken is the flat heuristic behind the count_tokens estimate.
const charsPerToken = 4

// EstimateTokens approximates the token count of a messages body by
// character count. Text content counts directly; structured content
// blocks count by their JSON encoding.
func EstimateTokens(body map[string]interface{}) int {
	var chars int

	switch system := body["system"].(type) {
	case string:
		chars += len(system)
	case []interface{}:
		chars += contentChars(system)
	}

	if messages, ok := body["messages"].([]interface{}); ok {
		for _, m := range messages {
			msg, ok := m.(map[string]interface{})
			if !ok {
				continue
			}
			switch content := msg["content"].(type) {
			case string:
				chars += len(content)
			case []interface{}:
				chars += contentChars(content)
			}
		}
	}

	if tools, ok := body["tools"].([]interface{}); ok {
		chars += contentChars(tools)
	}

	return (chars + charsPerToken - 1) / charsPerToken
}

// contentChars counts characters across content blocks: text blocks by
// their text, everything else by its JSON length.
func contentChars(blocks []interface{}) int {
	var chars int
	for _, b := range blocks {
		if block, ok := b.(map[string]interface{}); ok {
			if text, ok := block["text"].(string); ok {
				chars += len(text)
				continue
			}
		}
		if raw, err := json.Marshal(b); err == nil {
			chars += len(raw)
		}
	}
	return chars
}
