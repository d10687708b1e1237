// Package wire defines the on-the-wire framing every RPC payload and
// every piece of inter-node traffic is packed into before it leaves the
// process: a small envelope (kind, source/target node, payload bytes)
// encoded with google.golang.org/protobuf/encoding/protowire's low-level
// tag/varint API. Hand-coding the wire format against protowire directly
// (rather than running protoc against proto/envelope.proto) keeps the
// build free of codegen in an environment where protoc is not
// available, while still producing bytes that are valid protobuf wire
// format for the schema documented in proto/envelope.proto.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates the payload carried by an Envelope.
type Kind uint32

const (
	KindUnknown Kind = iota
	KindACLMessage
	KindAgentMigration
	KindConsensusMessage
)

// Envelope is the outermost frame for anything crossing the wire between
// nodes: internal/rpc's SendTo wraps outgoing ACL messages in one,
// public/node wraps migration packages in one, and public/node's RPC
// handlers unwrap them on receipt.
type Envelope struct {
	Kind       Kind
	SourceNode string
	TargetNode string
	Payload    []byte
}

const (
	fieldKind       = 1
	fieldSourceNode = 2
	fieldTargetNode = 3
	fieldPayload    = 4
)

// Marshal encodes e using protowire's tag+varint/length-delimited
// primitives, field numbers matching proto/envelope.proto.
func (e *Envelope) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = protowire.AppendTag(b, fieldSourceNode, protowire.BytesType)
	b = protowire.AppendString(b, e.SourceNode)
	b = protowire.AppendTag(b, fieldTargetNode, protowire.BytesType)
	b = protowire.AppendString(b, e.TargetNode)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	return b
}

// Unmarshal decodes an Envelope previously produced by Marshal, tolerant
// of unknown fields and any wire-format field ordering.
func Unmarshal(data []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid kind varint: %w", protowire.ParseError(n))
			}
			e.Kind = Kind(v)
			data = data[n:]
		case fieldSourceNode:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid source_node: %w", protowire.ParseError(n))
			}
			e.SourceNode = v
			data = data[n:]
		case fieldTargetNode:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid target_node: %w", protowire.ParseError(n))
			}
			e.TargetNode = v
			data = data[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("wire: invalid field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}
