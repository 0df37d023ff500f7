// Package ws defines the JSON envelope exchanged with the dispatch server.
package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Message is one flat JSON object on the control channel. Every message has
// an "action" field; requests may carry an opaque "request_id" that the
// response must echo.
type Message map[string]interface{}

// New returns a message with the given action and fields.
func New(action string, kv ...interface{}) Message {
	m := Message{"action": action}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			m[key] = kv[i+1]
		}
	}
	return m
}

// Parse decodes a single JSON object. Numbers are kept as json.Number so
// opaque ids survive untouched.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Message
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode message: not an object")
	}
	return m, nil
}

// Marshal marshals the message to JSON bytes.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(map[string]interface{}(m))
}

// Action returns the message action, or "".
func (m Message) Action() string {
	return m.String("action")
}

// RequestID returns the raw request_id value and whether it was present.
func (m Message) RequestID() (interface{}, bool) {
	v, ok := m["request_id"]
	return v, ok
}

// Has reports whether key is present and non-null.
func (m Message) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// String returns key as a string. Numbers are formatted; other types give "".
func (m Message) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// FirstString returns the first non-empty string among keys. It is used
// for fields the server sends under more than one name.
func (m Message) FirstString(keys ...string) string {
	for _, k := range keys {
		if s := m.String(k); s != "" {
			return s
		}
	}
	return ""
}

// Int returns key as an int, accepting JSON numbers and numeric strings.
func (m Message) Int(key string, def int) int {
	switch v := m[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// Bool returns key as a bool, accepting true/false, 1/0 and "true"/"1".
func (m Message) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		return v.String() != "0"
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// Object returns a nested object field, or nil.
func (m Message) Object(key string) Message {
	if v, ok := m[key].(map[string]interface{}); ok {
		return Message(v)
	}
	if v, ok := m[key].(Message); ok {
		return v
	}
	return nil
}

// Reply builds a response with the given action that echoes the request's
// request_id verbatim when present.
func (m Message) Reply(action string, kv ...interface{}) Message {
	resp := New(action, kv...)
	if id, ok := m.RequestID(); ok {
		resp["request_id"] = id
	}
	return resp
}
