// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	jsoniter "github.com/json-iterator/go"
)

const (
	typeKey  = "$type"
	valueKey = "$value"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrSerialization is returned when a payload cannot be encoded or decoded.
	ErrSerialization = errors.New("payload serialization failed")
	// ErrUnknownType is returned for payloads whose type or type tag is not registered.
	ErrUnknownType = fmt.Errorf("%w: unknown payload type", ErrSerialization)
)

type registeredType struct {
	name   string
	decode func([]byte) (any, error)
}

// Registry maps stable logical names to payload types. Registered types are
// written as JSON objects tagged with "$type" so the on-disk form never depends
// on Go package paths. Plain strings, booleans, numbers and nil need no
// registration and are written as bare JSON values.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]registeredType
	byType map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]registeredType),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds the named Go type T to a logical name. Decoding a payload
// tagged with name yields a value of type T (not a pointer).
func Register[T any](r *Registry, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "$") {
		return fmt.Errorf("invalid type name %q", name)
	}
	rt := reflect.TypeFor[T]()
	if rt.Name() == "" || rt.PkgPath() == "" {
		return fmt.Errorf("type %s must be a named type", rt)
	}
	if rt.Kind() == reflect.Interface {
		return fmt.Errorf("type %s is an interface", rt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("type name %q already registered", name)
	}
	if existing, ok := r.byType[rt]; ok {
		return fmt.Errorf("type %s already registered as %q", rt, existing)
	}
	r.byName[name] = registeredType{
		name: name,
		decode: func(data []byte) (any, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
	r.byType[rt] = name
	return nil
}

// MustRegister is Register for package initialization; it panics on error.
func MustRegister[T any](r *Registry, name string) {
	if err := Register[T](r, name); err != nil {
		panic(err)
	}
}

// Names returns the registered logical names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

func (r *Registry) nameOf(rt reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[rt]
	return name, ok
}

func (r *Registry) lookup(name string) (registeredType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byName[name]
	return entry, ok
}

// EncodePayload serializes a single payload in its tagged JSON form.
func (r *Registry) EncodePayload(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte("null"), nil
	case string, bool, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		// Numbers other than float64 come back as float64.
		data, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		return data, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil %T", ErrSerialization, v)
		}
		rv = rv.Elem()
	}
	name, ok := r.nameOf(rv.Type())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, rv.Type())
	}
	body, err := json.Marshal(rv.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, name, err)
	}
	return tagPayload(name, body, rv.Kind() == reflect.Struct)
}

// tagPayload inlines the tag into struct objects. Every other kind goes into
// a $value envelope so the tag never becomes part of the decoded value.
func tagPayload(name string, body []byte, inline bool) ([]byte, error) {
	quoted, err := json.Marshal(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	body = bytes.TrimSpace(body)
	out := make([]byte, 0, len(body)+len(quoted)+len(typeKey)+len(valueKey)+8)
	out = append(out, `{"`+typeKey+`":`...)
	out = append(out, quoted...)
	if inline && len(body) >= 2 && body[0] == '{' {
		rest := bytes.TrimSpace(body[1:])
		if rest[0] != '}' {
			out = append(out, ',')
		}
		return append(out, rest...), nil
	}
	out = append(out, `,"`+valueKey+`":`...)
	out = append(out, body...)
	return append(out, '}'), nil
}

// DecodePayload parses a single tagged payload produced by EncodePayload.
func (r *Registry) DecodePayload(data []byte) (any, error) {
	value, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return r.decodeValue(value, dataType)
}

func (r *Registry) decodeValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		return s, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		return b, nil
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		return f, nil
	case jsonparser.Object:
		return r.decodeObject(value)
	default:
		return nil, fmt.Errorf("%w: untagged %s payload", ErrSerialization, dataType)
	}
}

func (r *Registry) decodeObject(value []byte) (any, error) {
	name, err := jsonparser.GetString(value, typeKey)
	if err != nil {
		return nil, fmt.Errorf("%w: payload object without %s", ErrSerialization, typeKey)
	}
	entry, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	body := value
	if _, _, _, err := jsonparser.Get(value, valueKey); err == nil {
		var envelope struct {
			Value jsoniter.RawMessage `json:"$value"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, name, err)
		}
		body = envelope.Value
	}
	decoded, err := entry.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, name, err)
	}
	return decoded, nil
}
