package receipts

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// receiptSchemaJSON is the boundary contract for royalty_receipt.v1 records.
// Upstream is assumed to have validated the stream already; this schema is
// the core's own guard against malformed rows leaking through.
const receiptSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema", "timestamp", "top_k"],
  "properties": {
    "schema": {"const": "royalty_receipt.v1"},
    "timestamp": {"type": "string"},
    "top_k": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["provider_id", "shard_id", "share"],
        "properties": {
          "provider_id": {"type": "string", "minLength": 1},
          "shard_id": {"type": "string", "minLength": 1},
          "share": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

var receiptSchema = jsonschema.MustCompileString("royalty_receipt.v1.json", receiptSchemaJSON)

// validateRecord checks one decoded NDJSON row against the receipt schema.
func validateRecord(v any) error {
	return receiptSchema.Validate(v)
}
