package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Starter texts offered when structured modes are switched on with nothing
// typed yet. The schema follows the API's uppercase type convention.
const (
	DefaultSchema = `{
  "type": "ARRAY",
  "items": {
    "type": "OBJECT",
    "properties": {
      "recipeName": {
        "type": "STRING",
        "description": "The name of the cookie recipe."
      },
      "ingredients": {
        "type": "ARRAY",
        "description": "A list of ingredients for the recipe.",
        "items": { "type": "STRING" }
      }
    },
    "required": ["recipeName", "ingredients"]
  }
}`

	DefaultPromptJSON = `{
  "query": "List top 3 sci-fi movies from the 90s.",
  "context": "User is interested in classic science fiction."
}`

	DefaultAnalyzeInstruction = "Analyze the code in this screenshot. Identify potential bugs, suggest improvements, and explain your reasoning."
)

// ValidateSchema checks a response-schema string before it is sent. Messages
// are user facing and returned verbatim.
func ValidateSchema(schema string) error {
	trimmed := strings.TrimSpace(schema)
	if trimmed == "" {
		return errors.New("Schema cannot be empty.")
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return fmt.Errorf("Invalid JSON: %s", err.Error())
	}
	if _, ok := parsed.(map[string]any); !ok {
		return errors.New("Schema must be a valid JSON object.")
	}
	return nil
}

// ValidatePromptJSON checks the prompt when structured input is enabled.
func ValidatePromptJSON(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return errors.New("Prompt cannot be empty when structured input is enabled.")
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return fmt.Errorf("Invalid JSON: %s", err.Error())
	}
	return nil
}
