package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const definitionSchemaURL = "archi://schemas/workflow-definition.json"

const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "created_by": {"type": "string"},
    "steps": {"type": "array", "items": {"$ref": "#/$defs/step"}},
    "actions": {"type": "array", "items": {"$ref": "#/$defs/step"}},
    "retry_policy": {"$ref": "#/$defs/retry_policy"}
  },
  "anyOf": [{"required": ["steps"]}, {"required": ["actions"]}],
  "$defs": {
    "step": {
      "type": "object",
      "required": ["action_type"],
      "properties": {
        "id": {"type": "string"},
        "action_type": {"type": "string", "minLength": 1},
        "parameters": {"type": "object"},
        "dependencies": {"type": "array", "items": {"type": "string"}},
        "timeout": {"type": "number", "minimum": 0},
        "critical": {"type": "boolean"},
        "retry_policy": {"$ref": "#/$defs/retry_policy"}
      }
    },
    "retry_policy": {
      "type": "object",
      "properties": {
        "max_retries": {"type": "integer", "minimum": 0},
        "initial_delay": {"type": "number", "exclusiveMinimum": 0},
        "retry_delay": {"type": "number", "exclusiveMinimum": 0},
        "backoff_multiplier": {"type": "number", "minimum": 1}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func definitionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("解析工作流 schema 失败: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(definitionSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("注册工作流 schema 失败: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(definitionSchemaURL)
	})
	return compiledSchema, schemaErr
}

// DecodeDefinition 先以 JSON Schema 校验原始报文的结构，再解码为 Definition。
// 语义约束（重复 ID、未知依赖等）由 Prepare 负责。
func DecodeDefinition(raw []byte) (*Definition, error) {
	sch, err := definitionSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, validationError("workflow definition is not valid JSON: " + err.Error())
	}
	if err := sch.Validate(inst); err != nil {
		return nil, validationError(describeSchemaError(err))
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, validationError("decode workflow definition: " + err.Error())
	}
	return &def, nil
}

func describeSchemaError(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaves := collectViolations(verr)
	switch len(leaves) {
	case 0:
		return verr.Error()
	case 1:
		return leaves[0]
	default:
		return fmt.Sprintf("%d schema violations: %s", len(leaves), strings.Join(leaves, "; "))
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{"/" + strings.Join(verr.InstanceLocation, "/") + ": " + verr.Error()}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
