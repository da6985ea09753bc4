// Package validation checks inbound notification requests against a JSON
// schema before they reach the facade.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// notificationRequestSchema describes the enqueue request document accepted
// by mailctl and any other JSON-speaking caller.
var notificationRequestSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"recipient": map[string]interface{}{
			"type":    "string",
			"pattern": `^[^@\s]+@[^@\s]+\.[^@\s]+$`,
		},
		"template": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"subject": map[string]interface{}{
			"type": "string",
		},
		"priority": map[string]interface{}{
			"type":    "integer",
			"minimum": 0,
			"maximum": 2,
		},
		"batch_id": map[string]interface{}{
			"type": "string",
		},
		"group_id": map[string]interface{}{
			"type": "string",
		},
		"context": map[string]interface{}{
			"type": "object",
		},
		"attachments": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":     map[string]interface{}{"type": "string"},
					"filename": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"path", "filename"},
			},
		},
	},
	"required":             []interface{}{"recipient", "template"},
	"additionalProperties": false,
}

// ValidateNotificationRequest validates a decoded enqueue request document.
func ValidateNotificationRequest(doc map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(notificationRequestSchema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid notification request: %s", strings.Join(msgs, "; "))
	}

	return nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}
