package shimstore

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Into decodes a dynamic record into a typed Go struct, giving callers a
// per-record typed view on top of the map[string]any store API.
// Reflection-based struct population via mapstructure works identically
// for records coming from either backend.
func Into[T any](record map[string]any) (T, error) {
	var out T
	if record == nil {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "shimstore",
	})
	if err != nil {
		return out, newErr(KindInternal, "Into", err)
	}
	if err := dec.Decode(record); err != nil {
		return out, newErr(KindArgument, "Into", fmt.Errorf("decoding record into %T: %w", out, err))
	}
	return out, nil
}

// From encodes a typed Go struct back into the dynamic record shape every
// store operation accepts.
func From[T any](v T) (map[string]any, error) {
	var out map[string]any
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "shimstore",
	})
	if err != nil {
		return nil, newErr(KindInternal, "From", err)
	}
	if err := dec.Decode(v); err != nil {
		return nil, newErr(KindArgument, "From", fmt.Errorf("encoding %T into a record: %w", v, err))
	}
	return out, nil
}
