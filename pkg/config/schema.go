package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const organizationsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "propertyNames": {
    "pattern": "^[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,127}$"
  },
  "additionalProperties": {
    "type": "object",
    "properties": {
      "public": {"type": "boolean"},
      "oauth_token": {"type": "string"},
      "package_name_suffix": {"type": "string"},
      "greenwave_context": {"type": "string"},
      "replace_registry": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "old": {"type": "string", "minLength": 1},
            "new": {"type": "string"},
            "regexp": {"type": "boolean"}
          },
          "required": ["old", "new"],
          "additionalProperties": false
        }
      }
    },
    "additionalProperties": false
  }
}`

var orgSchema = jsonschema.MustCompileString("organizations.json", organizationsSchema)

func validateOrganizations(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("organizations: %v", err)
	}

	err := orgSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("organizations: %v", err)
	}
	return fmt.Errorf("organizations: %s", strings.Join(flatten(verr), "; "))
}

// flatten collects the leaf causes of a validation error.
func flatten(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, err.Message)}
	}
	var msgs []string
	for _, c := range err.Causes {
		msgs = append(msgs, flatten(c)...)
	}
	return msgs
}
