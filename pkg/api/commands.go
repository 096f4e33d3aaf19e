package api

import (
	"encoding/json"
	"fmt"
)

// CommandRequest is the body of POST /sessions/{id}/commands: a UI action
// name plus its arguments. The payload is forwarded to the worker opaquely;
// validation here only catches requests no worker could ever execute.
type CommandRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// commandCatalog lists the UI actions workers understand, with the argument
// fields each requires.
var commandCatalog = map[string][]string{
	"open_web_browser": nil,
	"navigate":         {"url"},
	"click_at":         {"x", "y"},
	"hover_at":         {"x", "y"},
	"type_text_at":     {"x", "y", "text"},
	"scroll_document":  {"direction"},
	"go_back":          nil,
	"go_forward":       nil,
	"search":           nil,
	"wait_5_seconds":   nil,
	"key_combination":  {"keys"},
	"screenshot":       nil,
}

// Validate checks the action name against the catalog and verifies required
// arguments are present.
func (c *CommandRequest) Validate() error {
	required, ok := commandCatalog[c.Name]
	if !ok {
		return fmt.Errorf("unknown action %q", c.Name)
	}
	if len(required) == 0 {
		return nil
	}

	var args map[string]json.RawMessage
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return fmt.Errorf("args for %q must be an object: %w", c.Name, err)
		}
	}
	for _, field := range required {
		if _, present := args[field]; !present {
			return fmt.Errorf("action %q requires argument %q", c.Name, field)
		}
	}

	if c.Name == "scroll_document" {
		var dir struct {
			Direction string `json:"direction"`
		}
		if err := json.Unmarshal(c.Args, &dir); err != nil || (dir.Direction != "up" && dir.Direction != "down") {
			return fmt.Errorf(`scroll_document direction must be "up" or "down"`)
		}
	}
	return nil
}
