package dispatch

import (
	"encoding/json"
	"fmt"
)

// envelopeWire is the JSON shape of Data on the wire, per spec.md §6.
type envelopeWire struct {
	MessageType string                 `json:"message-type"`
	Message     json.RawMessage        `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EncodeEnvelope renders d as the documented wire envelope.
func EncodeEnvelope(d Data) ([]byte, error) {
	payload, err := json.Marshal(d.Message())
	if err != nil {
		return nil, fmt.Errorf("encoding envelope message: %w", err)
	}
	wire := envelopeWire{
		MessageType: d.MessageType().String(),
		Message:     payload,
		Data:        mapOrNil(d.data),
	}
	out, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return out, nil
}

// EncodeRawEnvelope builds a wire envelope from a caller-supplied
// message-type name and already-serialized JSON message, for callers that
// have no typed Data value to derive a messageType from: the CLI's ad-hoc
// dispatch command, which only has an operator-typed type name and
// message body, not a registered Go type.
func EncodeRawEnvelope(messageType string, message json.RawMessage, data map[string]interface{}) ([]byte, error) {
	wire := envelopeWire{MessageType: messageType, Message: message, Data: mapOrNil(data)}
	out, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return out, nil
}

// DecodeEnvelopeInto decodes a wire envelope's message field into target
// (a pointer), returning the envelope's declared message-type name and
// data map. The remote dispatcher uses this to reconstruct a Data once it
// knows which Go type messageType names.
func DecodeEnvelopeInto(raw []byte, target interface{}) (messageType string, data map[string]interface{}, err error) {
	var wire envelopeWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return "", nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := json.Unmarshal(wire.Message, target); err != nil {
		return "", nil, fmt.Errorf("decoding envelope message: %w", err)
	}
	return wire.MessageType, wire.Data, nil
}

// DecodeEnvelopeRaw decodes only the envelope's outer shape, leaving the
// message payload as raw JSON. Callers that don't statically know which Go
// type messageType names (the remote dispatcher's inbound-frame path) look
// it up via a type registry and then json.Unmarshal the raw message into a
// freshly allocated value of that type.
func DecodeEnvelopeRaw(raw []byte) (messageType string, message json.RawMessage, data map[string]interface{}, err error) {
	var wire envelopeWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return "", nil, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return wire.MessageType, wire.Message, wire.Data, nil
}

// resultWire is the JSON shape of a Result on the wire, per spec.md §6.
type resultWire struct {
	ResultType string                 `json:"dispatch-result-type"`
	Result     interface{}            `json:"dispatch-result"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// EncodeResult renders result as the documented wire shape. payload is an
// arbitrary JSON-marshalable value carried for variants that need one
// (e.g. Typed's value, ValidationFailure's issues); it may be nil.
func EncodeResult(result Result, payload interface{}) ([]byte, error) {
	wire := resultWire{
		ResultType: result.wireTag(),
		Result:     payload,
	}
	switch v := result.(type) {
	case validationFailureResult:
		wire.Result = v.Issues()
	case aggregateResult:
		children := make([]json.RawMessage, 0, len(v.children))
		for _, c := range v.children {
			encoded, err := EncodeResult(c, nil)
			if err != nil {
				return nil, err
			}
			children = append(children, encoded)
		}
		wire.Result = children
	}
	out, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding dispatch result: %w", err)
	}
	return out, nil
}

// DecodeResultTag returns just the dispatch-result-type tag from a wire
// result, without attempting to reconstruct the full typed Result (callers
// that need the concrete variant back should route on the tag themselves;
// most remote callers only need IsSuccess/Message, reconstructed by the
// caller from the tag plus an application-level message field).
func DecodeResultTag(raw []byte) (tag string, err error) {
	var wire resultWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return "", fmt.Errorf("decoding dispatch result: %w", err)
	}
	return wire.ResultType, nil
}

func mapOrNil(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}
