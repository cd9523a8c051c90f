package collection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const collectionSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "entry": {
      "type": "object",
      "required": ["key"],
      "properties": {
        "key": {"type": "string"},
        "value": {"type": ["string", "array", "null"]},
        "active": {"type": "boolean"}
      }
    },
    "entries": {"type": ["array", "null"], "items": {"$ref": "#/definitions/entry"}},
    "auth": {
      "type": ["object", "null"],
      "properties": {
        "authType": {"type": "string"},
        "authActive": {"type": "boolean"}
      }
    },
    "request": {
      "type": "object",
      "required": ["name", "method", "endpoint"],
      "properties": {
        "name": {"type": "string"},
        "method": {"type": "string"},
        "endpoint": {"type": "string"},
        "params": {"$ref": "#/definitions/entries"},
        "headers": {"$ref": "#/definitions/entries"},
        "requestVariables": {"$ref": "#/definitions/entries"},
        "auth": {"$ref": "#/definitions/auth"},
        "preRequestScript": {"type": "string"},
        "testScript": {"type": "string"},
        "body": {
          "type": ["object", "null"],
          "properties": {
            "contentType": {"type": ["string", "null"]},
            "body": {"type": ["string", "array", "null"]}
          }
        }
      }
    },
    "collection": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string"},
        "auth": {"$ref": "#/definitions/auth"},
        "headers": {"$ref": "#/definitions/entries"},
        "variables": {"type": ["array", "null"], "items": {"type": "object", "required": ["key"]}},
        "preRequestScript": {"type": "string"},
        "testScript": {"type": "string"},
        "folders": {"type": ["array", "null"], "items": {"$ref": "#/definitions/collection"}},
        "requests": {"type": ["array", "null"], "items": {"$ref": "#/definitions/request"}}
      }
    }
  },
  "anyOf": [
    {"$ref": "#/definitions/collection"},
    {"type": "array", "items": {"$ref": "#/definitions/collection"}}
  ]
}`

const envSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "anyOf": [
    {
      "type": "object",
      "required": ["variables"],
      "properties": {
        "name": {"type": "string"},
        "variables": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["key"],
            "properties": {
              "key": {"type": "string"},
              "value": {"type": "string"},
              "initialValue": {"type": "string"},
              "currentValue": {"type": "string"},
              "secret": {"type": "boolean"}
            }
          }
        }
      }
    },
    {"type": "object", "additionalProperties": {"type": "string"}}
  ]
}`

type lazySchema struct {
	src  string
	once sync.Once
	s    *gojsonschema.Schema
	err  error
}

func (l *lazySchema) get() (*gojsonschema.Schema, error) {
	l.once.Do(func() {
		l.s, l.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(l.src))
	})
	return l.s, l.err
}

var (
	collectionSchema = &lazySchema{src: collectionSchemaJSON}
	envSchema        = &lazySchema{src: envSchemaJSON}
)

func validateDocument(schema *lazySchema, data []byte) error {
	s, err := schema.get()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
