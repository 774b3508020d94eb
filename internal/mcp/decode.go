package mcp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"

	"github.com/hpungsan/cairn/internal/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// decode maps the tool arguments onto T. Every failure is INVALID_REQUEST;
// a type mismatch names the argument, e.g. `argument "limit" must be a number`.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, errors.NewInvalidRequest("arguments are not valid JSON")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return out, errors.NewInvalidRequest(fmt.Sprintf("argument %q must be %s", typeErr.Field, jsonKind(typeErr.Type)))
		}
		return out, errors.NewInvalidRequest("invalid arguments: " + err.Error())
	}
	return out, nil
}

// jsonKind names the JSON shape a Go type decodes from.
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}
