// Package conversion implements the export/import step applied to operation
// arguments on the way out and to results and notification payloads on the
// way in.
package conversion

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Converter exports call arguments into wire-safe values and imports wire
// values into typed Go targets.
type Converter interface {
	// Export converts outgoing arguments.
	Export(args []any) ([]any, error)
	// Import decodes raw into target, which must be a non-nil pointer.
	Import(raw any, target any) error
}

// MapConverter is the default Converter. Structs are exported as
// map[string]interface{} using their json tags; imports go through
// mapstructure with weakly typed input so numbers decoded from JSON as
// float64 land in int fields and RFC3339 strings land in time.Time fields.
type MapConverter struct{}

// Default is the shared MapConverter.
var Default Converter = MapConverter{}

// Export implements Converter.
func (MapConverter) Export(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := exportValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func exportValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if t, ok := value.(time.Time); ok {
		return t.Format(time.RFC3339Nano), nil
	}

	val := reflect.ValueOf(value)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, nil
		}
		val = val.Elem()
	}
	if val.Kind() == reflect.Struct {
		return ToMap(value)
	}
	return value, nil
}

// Import implements Converter.
func (MapConverter) Import(raw any, target any) error {
	if target == nil {
		return fmt.Errorf("import target is nil")
	}
	if raw == nil {
		return nil
	}
	// Values that already have the target type are copied as they are.
	if dst := reflect.ValueOf(target); dst.Kind() == reflect.Ptr && !dst.IsNil() {
		if src := reflect.ValueOf(raw); src.Type().AssignableTo(dst.Elem().Type()) {
			dst.Elem().Set(src)
			return nil
		}
	}

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("creating decoder for %T: %w", target, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("importing %T into %T: %w", raw, target, err)
	}
	return nil
}

// ToMap converts a value to map[string]interface{}.
func ToMap(value interface{}) (map[string]interface{}, error) {
	if value == nil {
		return nil, nil
	}

	if m, ok := value.(map[string]interface{}); ok {
		return m, nil
	}

	val := reflect.ValueOf(value)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Struct:
		if _, ok := value.(time.Time); ok {
			return nil, fmt.Errorf("cannot convert time.Time to map[string]interface{}")
		}

		// Round trip through JSON so json tags and marshalers apply.
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal struct: %w", err)
		}
		var result map[string]interface{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal to map: %w", err)
		}
		return result, nil

	case reflect.Map:
		result := make(map[string]interface{}, val.Len())
		iter := val.MapRange()
		for iter.Next() {
			result[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return result, nil
	}

	return nil, fmt.Errorf("cannot convert %T to map[string]interface{}", value)
}

// ImportFunc decodes raw into target. Converter.Import has this shape.
type ImportFunc func(raw any, target any) error

// To decodes raw into a new T with decode, or with Default when decode is nil.
func To[T any](decode ImportFunc, raw any) (T, error) {
	var out T
	if decode == nil {
		decode = Default.Import
	}
	err := decode(raw, &out)
	return out, err
}
