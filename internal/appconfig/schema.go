package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema describes the optional JSON configuration file.
var configSchema = map[string]any{
	"$schema":              "http://json-schema.org/draft-07/schema#",
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"model":      map[string]any{"type": "string", "minLength": 1},
		"batchsize":  map[string]any{"type": "integer", "minimum": 1},
		"target":     map[string]any{"type": "string", "minLength": 1},
		"layout":     map[string]any{"type": "string"},
		"dtype":      map[string]any{"type": "string", "enum": []any{"float32", "float16", "bfloat16"}},
		"modelRoot":  map[string]any{"type": "string"},
		"outputDir":  map[string]any{"type": "string"},
		"seed":       map[string]any{"type": "integer"},
		"debug":      map[string]any{"type": "boolean"},
		"jsonMode":   map[string]any{"type": "boolean"},
		"save":       map[string]any{"type": "boolean"},
		"tui":        map[string]any{"type": "boolean"},
		"report":     map[string]any{"type": "boolean"},
		"resultsDir": map[string]any{"type": "string"},
		"logFile":    map[string]any{"type": "string"},
		"timer": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"mode":        map[string]any{"type": "string", "enum": []any{TimerNative, TimerWall}},
				"minRepeatMs": map[string]any{"type": "integer", "minimum": 0},
				"repeat":      map[string]any{"type": "integer", "minimum": 1},
				"number":      map[string]any{"type": "integer", "minimum": 1},
				"dryrun":      map[string]any{"type": "integer", "minimum": 0},
			},
		},
		"worker": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"command":     map[string]any{"type": "string", "minLength": 1},
				"args":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"env":         map[string]any{"type": "array", "items": map[string]any{"type": "string", "pattern": "^[^=]+=.*$"}},
				"initTimeout": map[string]any{"type": "integer", "minimum": 0},
			},
		},
	},
}

// ValidateDocument checks raw JSON against the configuration schema.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(configSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New("config does not match schema: " + strings.Join(msgs, "; "))
}

// ValidateFile is ValidateDocument for a path. A missing file is not an
// error because the configuration file is optional.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", path, err)
	}
	return ValidateDocument(data)
}
