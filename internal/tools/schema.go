package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaFor reflects a params struct into an inline JSON schema for the
// provider tool declaration. Descriptions come from jsonschema struct
// tags on the params type.
func schemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
