// Package remote implements the Remote Dispatcher (J): the thin layer
// that resolves a target end-point (falling back to a message type's
// registered default route), bypasses the network entirely for
// locally-resolved targets, and otherwise round-trips an envelope over
// internal/transport to a peer's local dispatcher.
package remote

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"nexus/internal/addressing"
	"nexus/internal/dispatch"
	"nexus/internal/router"
	"nexus/internal/transport"
	"nexus/pkg/logging"
)

const subsystem = "Remote"

// DispatchAppID is the transport application id the remote dispatcher
// registers its request/response protocol under.
const DispatchAppID uint32 = 1

// LocalDispatcher is the collaborator a Dispatcher bypasses to for
// messages that resolve to this process's own physical address.
type LocalDispatcher interface {
	Dispatch(ctx context.Context, data dispatch.Data, publish bool) dispatch.Result
}

// TypeRegistry resolves a wire message-type name back to the concrete Go
// type registered for it, so an inbound frame's message payload can be
// unmarshaled. *dispatch.Registry satisfies this.
type TypeRegistry interface {
	TypeByName(name string) (reflect.Type, bool)
}

// Dispatcher is the Remote Dispatcher (J).
type Dispatcher struct {
	local        LocalDispatcher
	router       *router.Router
	transport    *transport.Transport
	typeRegistry TypeRegistry
	self         addressing.PhysicalAddress

	requestTimeout time.Duration

	nextCorrelation uint64
	mu              sync.Mutex
	pending         map[uint64]chan []byte
}

// New builds a Dispatcher. self is this process's own physical address,
// used to detect local-bypass opportunities. requestTimeout bounds how
// long a remote round trip waits for its response frame.
func New(local LocalDispatcher, r *router.Router, t *transport.Transport, typeRegistry TypeRegistry, self addressing.PhysicalAddress, requestTimeout time.Duration) *Dispatcher {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		local:          local,
		router:         r,
		transport:      t,
		typeRegistry:   typeRegistry,
		self:           self,
		requestTimeout: requestTimeout,
		pending:        make(map[uint64]chan []byte),
	}
	t.RegisterHandler(DispatchAppID, d.handleFrame)
	return d
}

// handleFrame demultiplexes inbound frames: a frame whose correlation id
// matches a pending request is a response; otherwise it is a fresh remote
// dispatch request addressed to this process's local dispatcher.
func (d *Dispatcher) handleFrame(ctx context.Context, from addressing.PhysicalAddress, appID uint32, payload []byte) {
	if len(payload) < 9 {
		logging.Warn(subsystem, "dropping undersized frame from %s", from)
		return
	}
	correlation := binary.BigEndian.Uint64(payload[0:8])
	kind := payload[8]
	body := payload[9:]

	if kind == frameKindResponse {
		d.mu.Lock()
		ch, ok := d.pending[correlation]
		d.mu.Unlock()
		if ok {
			ch <- body
		}
		return
	}

	messageTypeName, rawMessage, extra, err := dispatch.DecodeEnvelopeRaw(body)
	if err != nil {
		logging.Warn(subsystem, "decoding inbound envelope: %v", err)
		return
	}

	goType, ok := d.typeRegistry.TypeByName(messageTypeName)
	if !ok {
		logging.Warn(subsystem, "no registered type for inbound message type %q", messageTypeName)
		return
	}
	messagePtr := reflect.New(goType)
	if err := json.Unmarshal(rawMessage, messagePtr.Interface()); err != nil {
		logging.Warn(subsystem, "decoding inbound message of type %q: %v", messageTypeName, err)
		return
	}

	data, err := dispatch.NewData(messagePtr.Elem().Interface(), extra)
	if err != nil {
		logging.Warn(subsystem, "rebuilding dispatch data from envelope: %v", err)
		return
	}

	result := d.local.Dispatch(ctx, data, false)
	encoded, err := dispatch.EncodeResult(result, nil)
	if err != nil {
		logging.Warn(subsystem, "encoding remote dispatch result: %v", err)
		return
	}
	d.replyTo(ctx, from, correlation, encoded)
}

const (
	frameKindRequest  byte = 0
	frameKindResponse byte = 1
)

func (d *Dispatcher) replyTo(ctx context.Context, to addressing.PhysicalAddress, correlation uint64, body []byte) {
	frame := buildFrame(correlation, frameKindResponse, body)
	if err := d.transport.Send(ctx, DispatchAppID, to, frame); err != nil {
		logging.Warn(subsystem, "sending response to %s: %v", to, err)
	}
}

// EncodeRequestFrame builds the wire frame a standalone client sends to
// trigger one fresh remote dispatch request, for callers that talk to a
// peer's transport listener directly without running a full Dispatcher's
// correlation/response bookkeeping: the CLI's ad-hoc dispatch command.
// correlation may be 0 when the caller has no response to correlate back.
func EncodeRequestFrame(correlation uint64, envelope []byte) []byte {
	return buildFrame(correlation, frameKindRequest, envelope)
}

func buildFrame(correlation uint64, kind byte, body []byte) []byte {
	frame := make([]byte, 9+len(body))
	binary.BigEndian.PutUint64(frame[0:8], correlation)
	frame[8] = kind
	copy(frame[9:], body)
	return frame
}

// Dispatch resolves target (or, if target is Unknown, the message type's
// default route), then either bypasses to the local dispatcher or
// round-trips the envelope to the resolved peer. A Failure result is
// returned on transport error; a session-terminated target triggers one
// re-resolution retry before failing.
func (d *Dispatcher) Dispatch(ctx context.Context, data dispatch.Data, target addressing.EndPointAddress, publish bool) dispatch.Result {
	endPoint := target
	if endPoint.IsUnknown() {
		resolved, ok, err := d.router.ResolveDefaultType(ctx, data.MessageType().String())
		if err != nil {
			return dispatch.NewFailure("resolving default route", err)
		}
		if !ok {
			return dispatch.NotDispatched
		}
		endPoint = resolved
	}

	result, err := d.dispatchOnce(ctx, data, endPoint, publish)
	if err == errSessionTerminated {
		result, err = d.dispatchOnce(ctx, data, endPoint, publish)
	}
	if err != nil {
		return dispatch.NewFailure("remote dispatch failed", err)
	}
	return result
}

var errSessionTerminated = fmt.Errorf("remote: target session terminated")

func (d *Dispatcher) dispatchOnce(ctx context.Context, data dispatch.Data, endPoint addressing.EndPointAddress, publish bool) (dispatch.Result, error) {
	targets, err := d.router.Resolve(ctx, endPoint)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errSessionTerminated
	}

	for _, physical := range targets {
		if physical.Equal(d.self) {
			return d.local.Dispatch(ctx, data, publish), nil
		}
	}

	envelope, err := dispatch.EncodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return d.roundTrip(ctx, targets[0], envelope)
}

func (d *Dispatcher) roundTrip(ctx context.Context, target addressing.PhysicalAddress, envelope []byte) (dispatch.Result, error) {
	correlation := atomic.AddUint64(&d.nextCorrelation, 1)
	ch := make(chan []byte, 1)

	d.mu.Lock()
	d.pending[correlation] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, correlation)
		d.mu.Unlock()
	}()

	frame := buildFrame(correlation, frameKindRequest, envelope)
	if err := d.transport.Send(ctx, DispatchAppID, target, frame); err != nil {
		return nil, fmt.Errorf("remote: sending request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()
	select {
	case body := <-ch:
		tag, err := dispatch.DecodeResultTag(body)
		if err != nil {
			return nil, err
		}
		// Only the result's tag is used here: a remote success becomes an
		// empty Success and any other tag a Failure naming it, since the
		// caller side has no static type to decode a Typed value into.
		if tag == "success" {
			return dispatch.NewSuccess(""), nil
		}
		return dispatch.NewFailure(fmt.Sprintf("remote result: %s", tag), nil), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("remote: waiting for response from %s: %w", target, ctx.Err())
	}
}
