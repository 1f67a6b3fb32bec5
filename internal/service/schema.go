package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/bcrosbie/evalboard/internal/domain"
)

const evalModelsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["model_id", "dataset_keys"],
    "properties": {
      "model_id": {"type": "string", "minLength": 1},
      "dataset_keys": {"type": "array", "items": {"type": "string"}}
    }
  }
}`

var schemaPrinter = message.NewPrinter(language.English)

var evalModelsSchema = mustCompileSchema(evalModelsSchemaJSON, "eval_models.schema.json")

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// validateEvalModelsPayload checks the raw snapshot shape before decoding.
func validateEvalModelsPayload(payload []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return domain.InvalidArgument("payload must be a JSON array of {model_id, dataset_keys} objects")
	}
	if err := evalModelsSchema.Validate(instance); err != nil {
		return domain.InvalidArgumentCause(schemaMessage(err), err)
	}
	return nil
}

func schemaMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "payload does not match the eval model schema"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := "/" + strings.Join(ve.InstanceLocation, "/")
	return fmt.Sprintf("invalid eval model payload at %s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter))
}
