package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"aimake-cache/internal/common/errors"
)

// Serialization selects how the remote tier encodes values
type Serialization string

const (
	// SerializationJSON stores UTF-8 JSON with non-ASCII and HTML characters unescaped
	SerializationJSON Serialization = "json"
	// SerializationRaw stores the value's string form; structure is not preserved
	SerializationRaw Serialization = "raw"
)

// Serializations lists the accepted serialization names
func Serializations() []string {
	return []string{string(SerializationJSON), string(SerializationRaw)}
}

// Codec converts values to and from the bytes stored in the remote tier
type Codec interface {
	Name() Serialization
	Encode(value interface{}) ([]byte, error)
	Decode(raw []byte) (interface{}, error)
}

// NewCodec returns the codec for s. An empty name selects JSON.
func NewCodec(s Serialization) (Codec, error) {
	switch Serialization(strings.ToLower(string(s))) {
	case SerializationJSON, "":
		return jsonCodec{}, nil
	case SerializationRaw:
		return rawCodec{}, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown serialization %q", s))
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() Serialization { return SerializationJSON }

// Encode rejects values containing []byte at any depth: encoding/json would
// silently base64 them, which does not decode back to the same value.
// Callers pre-encode binary payloads.
func (jsonCodec) Encode(value interface{}) ([]byte, error) {
	if path, ok := findBinary(reflect.ValueOf(value), "$", 0); ok {
		return nil, errors.SerializationError("raw binary is not JSON-representable; encode it first", nil).
			WithContext("path", path)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, errors.SerializationError("failed to encode value as JSON", err).
			WithContext("type", fmt.Sprintf("%T", value))
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

const maxBinaryScanDepth = 32

var (
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	marshalerType  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// findBinary reports the path of the first []byte reachable from v. Values
// that marshal themselves and json.RawMessage are left to encoding/json.
func findBinary(v reflect.Value, path string, depth int) (string, bool) {
	if !v.IsValid() || depth > maxBinaryScanDepth {
		return "", false
	}
	if v.Type() == rawMessageType || v.Type().Implements(marshalerType) {
		return "", false
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return "", false
		}
		return findBinary(v.Elem(), path, depth+1)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return path, true
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if p, ok := findBinary(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); ok {
				return p, true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if p, ok := findBinary(iter.Value(), fmt.Sprintf("%s.%v", path, iter.Key()), depth+1); ok {
				return p, true
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if p, ok := findBinary(v.Field(i), path+"."+t.Field(i).Name, depth+1); ok {
				return p, true
			}
		}
	}
	return "", false
}

func (jsonCodec) Decode(raw []byte) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errors.SerializationError("failed to decode JSON value", err)
	}
	return value, nil
}

type rawCodec struct{}

func (rawCodec) Name() Serialization { return SerializationRaw }

func (rawCodec) Encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return []byte{}, nil
	default:
		return []byte(fmt.Sprint(v)), nil
	}
}

func (rawCodec) Decode(raw []byte) (interface{}, error) {
	return string(raw), nil
}
