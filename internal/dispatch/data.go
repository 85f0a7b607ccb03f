// Package dispatch implements the message dispatcher core: the immutable
// dispatch envelope and result hierarchy (F), the handler registry and
// per-handler configuration (G), the dependency-ordered processor pipeline
// (H), and the local dispatcher (I).
package dispatch

import (
	"fmt"
	"reflect"
)

// Data is the immutable message envelope passed through the processor
// pipeline to a handler. Construction rejects a nil message and a message
// whose type validateMessageType refuses; struct values are accepted as
// messages, so messageType is not required to be a reference type.
type Data struct {
	messageType reflect.Type
	message     interface{}
	data        map[string]interface{}
}

// NewData builds an envelope for message, with an optional immutable data
// map. message's reflect.Type becomes the envelope's messageType.
func NewData(message interface{}, data map[string]interface{}) (Data, error) {
	if message == nil {
		return Data{}, fmt.Errorf("dispatch: message must not be nil")
	}
	t := reflect.TypeOf(message)
	if err := validateMessageType(t); err != nil {
		return Data{}, err
	}

	cp := make(map[string]interface{}, len(data))
	for k, v := range data {
		cp[k] = v
	}

	return Data{messageType: t, message: message, data: cp}, nil
}

func validateMessageType(t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("dispatch: message has no discoverable type")
	}
	switch t.Kind() {
	case reflect.Func, reflect.Chan:
		return fmt.Errorf("dispatch: message type %s is not a valid reference type", t)
	}
	return nil
}

// MessageType returns the concrete runtime type of the envelope's message.
func (d Data) MessageType() reflect.Type {
	return d.messageType
}

// Message returns the carried message value.
func (d Data) Message() interface{} {
	return d.message
}

// Get returns the value stored under key, or nil if the key is absent. It
// never panics on a missing key, matching spec.md §3's "missing key
// returns null, does not throw".
func (d Data) Get(key string) interface{} {
	return d.data[key]
}

// Keys returns the set of data keys carried by the envelope, in no
// particular order.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	return keys
}

// WithData returns a copy of the envelope whose data map is the union of
// the receiver's and extra, with extra taking precedence on key conflicts.
func (d Data) WithData(extra map[string]interface{}) Data {
	merged := make(map[string]interface{}, len(d.data)+len(extra))
	for k, v := range d.data {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return Data{messageType: d.messageType, message: d.message, data: merged}
}
