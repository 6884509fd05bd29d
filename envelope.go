package roomsync

import (
	"encoding/json"
	"fmt"
)

// Mutation is created by the store, consumed by the pusher, and never
// mutated after creation.
type Mutation struct {
	ID        int64           `json:"id"`
	ClientID  string          `json:"clientID"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Timestamp int64           `json:"timestamp"`
}

// PatchEntry is an opaque JSON delta from the server; its content is never
// interpreted by this module, only concatenated in order and handed to the
// store.
type PatchEntry = json.RawMessage

// Cookie is a monotonically non-decreasing version token. The zero value
// (Valid == false) represents the null genesis cookie.
type Cookie struct {
	Value int64
	Valid bool
}

func ValidCookie(v int64) Cookie {
	return Cookie{Value: v, Valid: true}
}

func (self Cookie) String() string {
	if !self.Valid {
		return "<genesis>"
	}
	return fmt.Sprintf("%d", self.Value)
}

func (self Cookie) MarshalJSON() ([]byte, error) {
	if !self.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(self.Value)
}

func (self *Cookie) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*self = Cookie{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*self = Cookie{Value: v, Valid: true}
	return nil
}

// PokeBody is an immutable, server-originated state delta. Multiple pokes
// may share ClientID, in which case Timestamp is measured against that
// source's clock rather than the receiving client's.
type PokeBody struct {
	BaseCookie     Cookie       `json:"baseCookie"`
	Cookie         Cookie       `json:"cookie"`
	LastMutationID int64        `json:"lastMutationID"`
	Patch          []PatchEntry `json:"patch"`
	Timestamp      int64        `json:"timestamp"`
	ClientID       *string      `json:"clientID,omitempty"`
}

type DownstreamTag string

const (
	DownstreamConnected DownstreamTag = "connected"
	DownstreamError     DownstreamTag = "error"
	DownstreamPong      DownstreamTag = "pong"
	DownstreamPoke      DownstreamTag = "poke"
)

// Downstream is the decoded form of a server->client [tag, payload] tuple.
type Downstream struct {
	Tag          DownstreamTag
	ErrorMessage string
	Pokes        []PokeBody
}

// downstreamEnvelope captures the raw two-element tuple before the payload
// shape (which depends on the tag) is known.
type downstreamEnvelope struct {
	tag string
	raw json.RawMessage
}

func (self *downstreamEnvelope) UnmarshalJSON(data []byte) error {
	var parts [2]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &self.tag); err != nil {
		return fmt.Errorf("roomsync: downstream envelope tag: %w", err)
	}
	self.raw = parts[1]
	return nil
}

// decodeDownstream parses a raw websocket text/binary frame into a
// Downstream. A JSON parse failure is returned as a plain wrapped error; an
// unrecognized tag is returned as a *ProtocolError, per the "any other tag
// is a protocol violation" rule.
func decodeDownstream(data []byte) (Downstream, error) {
	var env downstreamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Downstream{}, fmt.Errorf("roomsync: malformed downstream envelope: %w", err)
	}

	switch DownstreamTag(env.tag) {
	case DownstreamConnected:
		return Downstream{Tag: DownstreamConnected}, nil

	case DownstreamError:
		var msg string
		if err := json.Unmarshal(env.raw, &msg); err != nil {
			return Downstream{}, fmt.Errorf("roomsync: malformed error payload: %w", err)
		}
		return Downstream{Tag: DownstreamError, ErrorMessage: msg}, nil

	case DownstreamPong:
		return Downstream{Tag: DownstreamPong}, nil

	case DownstreamPoke:
		pokes, err := decodePokePayload(env.raw)
		if err != nil {
			return Downstream{}, err
		}
		return Downstream{Tag: DownstreamPoke, Pokes: pokes}, nil

	default:
		return Downstream{}, newProtocolError("unexpected downstream tag %q", env.tag)
	}
}

// decodePokePayload normalizes a poke payload, which may be a single
// PokeBody object or an array of them, into a slice.
func decodePokePayload(raw json.RawMessage) ([]PokeBody, error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var pokes []PokeBody
		if err := json.Unmarshal(raw, &pokes); err != nil {
			return nil, fmt.Errorf("roomsync: malformed poke array: %w", err)
		}
		return pokes, nil
	}
	var poke PokeBody
	if err := json.Unmarshal(raw, &poke); err != nil {
		return nil, fmt.Errorf("roomsync: malformed poke: %w", err)
	}
	return []PokeBody{poke}, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

// pushBody is the payload of an upstream "push" envelope. mutations always
// has exactly one element per transmission (the pusher sends one envelope
// per mutation so that partial delivery leaves LastMutationIDSent accurate).
type pushBody struct {
	Mutations     []Mutation `json:"mutations"`
	ClientGroupID string     `json:"clientGroupID,omitempty"`
	ProfileID     string     `json:"profileID,omitempty"`
	Timestamp     int64      `json:"timestamp"`
}

func encodePing() ([]byte, error) {
	return json.Marshal([2]any{"ping", struct{}{}})
}

func encodePush(body pushBody) ([]byte, error) {
	return json.Marshal([2]any{"push", body})
}
