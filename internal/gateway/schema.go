package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// frameSchemaRegistry compiles the per-type inbound schemas once.
type frameSchemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[string]*jsonschema.Schema
}

var frameSchemas frameSchemaRegistry

func initFrameSchemas() error {
	frameSchemas.once.Do(func() {
		sources := map[string]string{
			frameRegister:     registerSchema,
			framePing:         emptySchema,
			frameMessage:      messageSchema,
			frameCancel:       cancelSchema,
			frameStatus:       emptySchema,
			frameMCPList:      mcpRequestSchema,
			frameMCPInstall:   mcpInstallSchema,
			frameMCPUninstall: mcpServerSchema,
			frameMCPStatus:    mcpRequestSchema,
			frameMCPRestart:   mcpServerSchema,
			frameMCPEnable:    mcpEnableSchema,
		}
		frameSchemas.schemas = make(map[string]*jsonschema.Schema, len(sources))
		for name, src := range sources {
			compiled, err := jsonschema.CompileString("frame_"+name, src)
			if err != nil {
				frameSchemas.initErr = err
				return
			}
			frameSchemas.schemas[name] = compiled
		}
	})
	return frameSchemas.initErr
}

// validateFrame checks a raw inbound frame against the schema for its
// type. Unknown types pass here and are rejected by the dispatcher.
func validateFrame(frameType string, raw []byte) error {
	if err := initFrameSchemas(); err != nil {
		return err
	}
	schema := frameSchemas.schemas[frameType]
	if schema == nil {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid %s frame: %w", frameType, err)
	}
	return nil
}

const emptySchema = `{
  "type": "object",
  "required": ["type"],
  "additionalProperties": true
}`

const registerSchema = `{
  "type": "object",
  "required": ["type", "node_id", "platform"],
  "properties": {
    "node_id": { "type": "string", "minLength": 1 },
    "platform": { "type": "string", "minLength": 1 },
    "capabilities": { "type": "array", "items": { "type": "string" } },
    "metadata": { "type": "object", "additionalProperties": { "type": "string" } }
  },
  "additionalProperties": true
}`

const messageSchema = `{
  "type": "object",
  "required": ["type", "id", "user", "channel"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "user": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "display_name": { "type": "string" }
      },
      "additionalProperties": true
    },
    "channel": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "enum": ["dm", "group", "server"] },
        "name": { "type": "string" },
        "guild_name": { "type": "string" }
      },
      "additionalProperties": true
    },
    "content": { "type": "string" },
    "attachments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "filename"],
        "properties": {
          "kind": { "enum": ["image", "text", "file"] },
          "filename": { "type": "string", "minLength": 1 },
          "media_type": { "type": "string" },
          "size": { "type": "integer", "minimum": 0 },
          "content": { "type": "string" },
          "data": { "type": "string" }
        },
        "additionalProperties": true
      }
    },
    "reply_chain": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["author", "content"],
        "additionalProperties": true
      }
    },
    "metadata": { "type": "object", "additionalProperties": { "type": "string" } },
    "tier_override": { "enum": ["", "low", "mid", "high"] }
  },
  "additionalProperties": true
}`

const cancelSchema = `{
  "type": "object",
  "required": ["type", "request_id"],
  "properties": {
    "request_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const mcpRequestSchema = `{
  "type": "object",
  "required": ["type", "request_id"],
  "properties": {
    "request_id": { "type": "string", "minLength": 1 },
    "server_name": { "type": "string" }
  },
  "additionalProperties": true
}`

const mcpInstallSchema = `{
  "type": "object",
  "required": ["type", "request_id", "source"],
  "properties": {
    "request_id": { "type": "string", "minLength": 1 },
    "source": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "requested_by": { "type": "string" },
    "env": { "type": "object", "additionalProperties": { "type": "string" } }
  },
  "additionalProperties": true
}`

const mcpServerSchema = `{
  "type": "object",
  "required": ["type", "request_id", "server_name"],
  "properties": {
    "request_id": { "type": "string", "minLength": 1 },
    "server_name": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const mcpEnableSchema = `{
  "type": "object",
  "required": ["type", "request_id", "server_name", "enabled"],
  "properties": {
    "request_id": { "type": "string", "minLength": 1 },
    "server_name": { "type": "string", "minLength": 1 },
    "enabled": { "type": "boolean" }
  },
  "additionalProperties": true
}`
