package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownType is returned when a message names a type the bridge does
// not carry.
var ErrUnknownType = errors.New("bridge: unknown message type")

// DecodeError reports a frame that could not be turned into a Message.
// The channel it arrived on is still usable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "bridge: decode message: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Codec serializes messages for a byte-oriented channel.
type Codec interface {
	Name() string
	Encode(m Message) ([]byte, error)
	Decode(data []byte) (Message, error)
	// Binary reports whether encoded frames should travel as binary rather
	// than text.
	Binary() bool
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("unsupported codec %q", name)
}

type peek struct {
	Type string `json:"type" msgpack:"type"`
}

func decodeWith(data []byte, unmarshal func([]byte, any) error) (Message, error) {
	var p peek
	if err := unmarshal(data, &p); err != nil {
		return nil, &DecodeError{Err: err}
	}
	newMsg, ok := registry[p.Type]
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("%w %q", ErrUnknownType, p.Type)}
	}
	m := newMsg()
	if err := unmarshal(data, m); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return m, nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(m Message) ([]byte, error) {
	m.stamp()
	return json.Marshal(m)
}

func (jsonCodec) Decode(data []byte) (Message, error) {
	return decodeWith(data, json.Unmarshal)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(m Message) ([]byte, error) {
	m.stamp()
	return msgpack.Marshal(m)
}

func (msgpackCodec) Decode(data []byte) (Message, error) {
	return decodeWith(data, msgpack.Unmarshal)
}
