package ledger

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"
)

// Well-known payload keys written by NewPayload.
const (
	PayloadOperation = "operation"
	PayloadModel     = "model"
	PayloadModelID   = "model_id"
	PayloadTimestamp = "timestamp"
	PayloadData      = "data"
)

// Operation is the kind of change a payload describes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// NewPayload builds the conventional event snapshot for entity ref. data holds
// the entity's field-by-field serialization.
func NewPayload(op Operation, ref EntityRef, data map[string]any) Payload {
	if data == nil {
		data = map[string]any{}
	}
	return Payload{
		PayloadOperation: string(op),
		PayloadModel:     ref.Type,
		PayloadModelID:   ref.ID,
		PayloadTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		PayloadData:      data,
	}
}

// Operation returns the payload's operation field, or "" when absent.
func (p Payload) Operation() string { return payloadString(p, PayloadOperation) }

// Entity returns the model reference embedded in the payload.
func (p Payload) Entity() EntityRef {
	return EntityRef{Type: payloadString(p, PayloadModel), ID: payloadString(p, PayloadModelID)}
}

func payloadString(p Payload, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// normalizePayload returns the canonical JSON encoding of p together with the
// payload decoded back from it. The decoded form is what gets stored, so the
// stored value re-encodes to exactly the bytes that were hashed.
func normalizePayload(p Payload) (Payload, []byte, error) {
	if p == nil {
		p = Payload{}
	}
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	// encoding/json replaces invalid UTF-8 with U+FFFD, which can merge
	// distinct keys. Reject instead of storing something else.
	if err := checkUTF8(reflect.ValueOf(map[string]any(p)), "payload"); err != nil {
		return nil, nil, err
	}
	if !utf8.Valid(raw) {
		return nil, nil, fmt.Errorf("%w: invalid UTF-8 in encoded payload", ErrEncoding)
	}
	decoded, err := decodePayload(raw)
	if err != nil {
		return nil, nil, err
	}
	// Maps marshal with sorted keys; a second pass sorts fields that came
	// from structs in the first one.
	canonical, err := json.Marshal(map[string]any(decoded))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return decoded, canonical, nil
}

// decodePayload parses stored payload bytes, keeping numbers in their literal
// form so they re-encode identically.
func decodePayload(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrEncoding, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Payload(m), nil
}

// canonicalPayload returns the canonical JSON bytes of p.
func canonicalPayload(p Payload) ([]byte, error) {
	_, canonical, err := normalizePayload(p)
	return canonical, err
}

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// checkUTF8 walks v the way encoding/json would and fails on the first map
// key or string that is not valid UTF-8. Values with their own marshaler are
// left to the check on the encoded bytes.
func checkUTF8(v reflect.Value, path string) error {
	if !v.IsValid() {
		return nil
	}
	if v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType) {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return checkUTF8(v.Elem(), path)
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%w: invalid UTF-8 in %q", ErrEncoding, path)
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			name := fmt.Sprint(k.Interface())
			if k.Kind() == reflect.String && !utf8.ValidString(k.String()) {
				return fmt.Errorf("%w: invalid UTF-8 in %q", ErrEncoding, path+"."+name)
			}
			if err := checkUTF8(iter.Value(), path+"."+name); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return nil // []byte encodes as base64
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if err := checkUTF8(v.Field(i), path+"."+f.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
