package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// Definition is the static configuration descriptor of an endpoint type.
// Form and Schema are opaque to the host; they are handed to whatever renders the editor.
type Definition struct {
	Form   string
	Schema string
	Model  reflect.Type
}

// ModelName returns the name of the configuration model, package qualified.
func (d Definition) ModelName() string {
	if d.Model == nil {
		return ""
	}
	return d.Model.String()
}

// DecodeJSON decodes data into a fresh value of the definition's model.
// Unknown fields are rejected.
func DecodeJSON(def Definition, data []byte) (any, error) {
	if def.Model == nil {
		return nil, fmt.Errorf("%w: definition has no model", ErrConfiguration)
	}
	ptr := reflect.New(def.Model)
	if err := decodeStrict(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrConfiguration, def.ModelName(), err)
	}
	return ptr.Elem().Interface(), nil
}

// decodeStrict is the single JSON policy for configuration payloads: unknown fields
// and trailing data are rejected.
func decodeStrict(data []byte, into any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after configuration object")
	}
	return nil
}

// DecodeMap decodes loosely typed settings (as read from a config file) into a fresh
// value of the definition's model, starting from base when it is not nil.
func DecodeMap(def Definition, base any, settings map[string]any) (any, error) {
	if def.Model == nil {
		return nil, fmt.Errorf("%w: definition has no model", ErrConfiguration)
	}
	ptr := reflect.New(def.Model)
	if base != nil {
		bv := reflect.ValueOf(base)
		if bv.Type() != def.Model {
			return nil, fmt.Errorf("%w: base is %T, want %s", ErrConfiguration, base, def.ModelName())
		}
		ptr.Elem().Set(bv)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ptr.Interface(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrConfiguration, def.ModelName(), err)
	}
	return ptr.Elem().Interface(), nil
}
