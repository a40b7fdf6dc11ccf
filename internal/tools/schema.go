package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var schemaReflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// schemaFor reflects args's JSON schema from its struct tags. Every
// built-in tool's Schema() method derives its advertised argument shape
// from the same struct its Execute unmarshals into, so the two can never
// drift apart.
func schemaFor(args any) json.RawMessage {
	raw, err := json.Marshal(schemaReflector.Reflect(args))
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
