// Package codec implements the dynamic message codec: encoding/decoding
// DynamicMessages against descriptors discovered at runtime.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
)

// Codec encodes/decodes DynamicMessages for one method's request/response
// descriptors.
type Codec struct {
	Input  *desc.MessageDescriptor
	Output *desc.MessageDescriptor
}

// New returns a Codec bound to a method's input/output descriptors.
func New(input, output *desc.MessageDescriptor) *Codec {
	return &Codec{Input: input, Output: output}
}

// DecodeRequest builds a request DynamicMessage from a parsed JSON5 value
// (as produced by internal/gctf's payload decoding), normalizing well-known
// types first.
func (c *Codec) DecodeRequest(value any) (*dynamic.Message, error) {
	return decodeInto(c.Input, value)
}

// NewResponse allocates an empty response DynamicMessage for this codec's
// output descriptor, for callers (the dispatcher) that need to hand the
// dynamic gRPC stub a destination message.
func (c *Codec) NewResponse() *dynamic.Message {
	return dynamic.NewMessage(c.Output)
}

// EncodeMessageJSON renders a DynamicMessage as a JSON value (map/slice/etc,
// not text) suitable for feeding to the response matcher.
func EncodeMessageJSON(msg *dynamic.Message) (any, error) {
	b, err := msg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message to JSON: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to decode marshaled JSON: %w", err)
	}
	return v, nil
}

func decodeInto(md *desc.MessageDescriptor, value any) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md)
	if value == nil {
		return msg, nil
	}
	normalized := normalizeWellKnownTypes(md, value)
	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal normalized payload: %w", err)
	}
	if err := msg.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("failed to decode payload for %s: %w", md.GetFullyQualifiedName(), err)
	}
	return msg, nil
}

// normalizeWellKnownTypes rewrites JSON request values for well-known types
// the reflection-produced descriptor expects in a different wire shape than
// the JSON5 author naturally writes. FieldMask is the flagship case:
// {"paths": [...]} is rewritten to its comma-separated wire string form.
func normalizeWellKnownTypes(md *desc.MessageDescriptor, value any) any {
	if md.GetFullyQualifiedName() == "google.protobuf.FieldMask" {
		if obj, ok := value.(map[string]any); ok {
			if paths, ok := obj["paths"].([]any); ok {
				strs := make([]string, 0, len(paths))
				for _, p := range paths {
					if s, ok := p.(string); ok {
						strs = append(strs, s)
					}
				}
				return strings.Join(strs, ",")
			}
		}
		return value
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(obj))
	for _, f := range md.GetFields() {
		name := f.GetJSONName()
		if name == "" {
			name = f.GetName()
		}
		v, present := obj[name]
		if !present {
			v, present = obj[f.GetName()]
		}
		if !present {
			continue
		}
		if f.GetMessageType() != nil {
			out[name] = normalizeNestedValue(f, v)
		} else {
			out[name] = v
		}
	}
	// carry through any keys the descriptor didn't recognize so the dynamic
	// unmarshaler can surface its own "unknown field" diagnostics rather
	// than silently dropping them here.
	for k, v := range obj {
		if _, handled := out[k]; !handled {
			out[k] = v
		}
	}
	return out
}

func normalizeNestedValue(f *desc.FieldDescriptor, v any) any {
	nested := f.GetMessageType()
	if f.IsRepeated() {
		arr, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = normalizeWellKnownTypes(nested, e)
		}
		return out
	}
	return normalizeWellKnownTypes(nested, v)
}
