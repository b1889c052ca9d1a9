package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope types.
const (
	TypeInput  = "input"
	TypeAck    = "ack"
	TypeLeave  = "leave"
	TypeJoined = "joined"
	TypeDiff   = "diff"
	TypeClosed = "closed"
	TypeError  = "error"
)

// Envelope wraps every websocket message in either direction. Data is the
// simulation's payload and is passed through untouched.
type Envelope struct {
	Type    string `msgpack:"type"`
	Arena   string `msgpack:"arena,omitempty"`
	Player  uint32 `msgpack:"player,omitempty"`
	Version uint64 `msgpack:"version,omitempty"`
	Final   bool   `msgpack:"final,omitempty"`
	Token   string `msgpack:"token,omitempty"`  // joined: reconnect token
	Reason  string `msgpack:"reason,omitempty"` // closed, error
	Data    []byte `msgpack:"data,omitempty"`
}

// Codec turns envelopes into websocket frames.
type Codec interface {
	Name() string
	MessageType() int
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

var errDataNotJSON = errors.New("payload is not valid JSON")

// CodecByName picks a codec from the ?codec= query value.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// jsonCodec sends text frames; Data must itself be JSON and is inlined.
type jsonCodec struct{}

type jsonEnvelope struct {
	Type    string          `json:"type"`
	Arena   string          `json:"arena,omitempty"`
	Player  uint32          `json:"player,omitempty"`
	Version uint64          `json:"version,omitempty"`
	Final   bool            `json:"final,omitempty"`
	Token   string          `json:"token,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(env Envelope) ([]byte, error) {
	if len(env.Data) > 0 && !json.Valid(env.Data) {
		return nil, errDataNotJSON
	}
	return json.Marshal(jsonEnvelope{
		Type:    env.Type,
		Arena:   env.Arena,
		Player:  env.Player,
		Version: env.Version,
		Final:   env.Final,
		Token:   env.Token,
		Reason:  env.Reason,
		Data:    env.Data,
	})
}

func (jsonCodec) Decode(data []byte) (Envelope, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:    env.Type,
		Arena:   env.Arena,
		Player:  env.Player,
		Version: env.Version,
		Final:   env.Final,
		Token:   env.Token,
		Reason:  env.Reason,
		Data:    env.Data,
	}, nil
}

// msgpackCodec sends binary frames; Data is carried as raw bytes.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

func (msgpackCodec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(data, &env)
	return env, err
}
