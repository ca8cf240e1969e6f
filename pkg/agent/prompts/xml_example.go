package prompts

import (
	"sort"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

// GenerateXMLExample creates a call example for an action from its JSON
// schema, filling in placeholder values for the required parameters.
func GenerateXMLExample(schema map[string]interface{}, actionName string) string {
	params := make(map[string]string)

	properties, _ := schema["properties"].(map[string]interface{})
	for _, name := range requiredFields(schema) {
		propMap, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		params[name] = exampleValue(name, propMap)
	}
	return tools.FormatCall(actionName, params)
}

func requiredFields(schema map[string]interface{}) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = append(out, req...)
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// exampleValue picks a placeholder that passes validation for the property.
func exampleValue(name string, propSchema map[string]interface{}) string {
	propType, _ := propSchema["type"].(string) //nolint:errcheck

	switch propType {
	case "integer":
		return "3"
	case "number":
		return "1.5"
	case "boolean":
		return "true"
	}

	switch enum := propSchema["enum"].(type) {
	case []string:
		if len(enum) > 0 {
			return enum[0]
		}
	case []interface{}:
		if len(enum) > 0 {
			if s, ok := enum[0].(string); ok {
				return s
			}
		}
	}

	switch name {
	case "url":
		return "https://example.com"
	case "tab_id":
		return "tab-1"
	}
	return "value"
}
