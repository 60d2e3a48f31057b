package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const chatSchema = `{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role"],
        "properties": {"role": {"type": "string", "minLength": 1}}
      }
    },
    "max_tokens": {"type": "integer", "minimum": 1},
    "stream": {"type": "boolean"}
  }
}`

const speechSchema = `{"type": "object"}`

const musicSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": ["string", "null"]},
    "duration": {"type": ["number", "string", "null"]},
    "instrumental": {"type": ["boolean", "null"]}
  }
}`

var (
	chatRequestSchema   = jsonschema.MustCompileString("chat.json", chatSchema)
	speechRequestSchema = jsonschema.MustCompileString("tts.json", speechSchema)
	musicRequestSchema  = jsonschema.MustCompileString("music.json", musicSchema)
)

// decodeValidated parses body as JSON, validates it against schema and
// returns the generic document. Failures are KindMalformedRequest.
func decodeValidated(schema *jsonschema.Schema, body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}

	if err := schema.Validate(doc); err != nil {
		return nil, malformed("%s", describeValidation(err))
	}
	return doc, nil
}

func describeValidation(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	location := strings.TrimPrefix(verr.InstanceLocation, "/")
	if location == "" {
		return verr.Message
	}
	return fmt.Sprintf("%s: %s", location, verr.Message)
}
