// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package msg

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Encode renders a Message as an OSC packet ready to hand to a UDP socket.
func Encode(m Message) ([]byte, error) {
	out := osc.NewMessage(m.Address)
	for _, arg := range m.Args {
		switch arg.Kind() {
		case value.KindInt:
			i, _ := arg.AsInt()
			out.Append(int32(i))
		case value.KindFloat:
			f, _ := arg.AsFloat()
			out.Append(float32(f))
		case value.KindString:
			s, _ := arg.AsString()
			out.Append(s)
		case value.KindBool:
			b, _ := arg.AsBool()
			out.Append(b)
		case value.KindBytes:
			bs, _ := arg.AsBytes()
			out.Append(bs)
		default:
			return nil, fmt.Errorf("msg: encode %s: unknown argument kind %v", m.Address, arg.Kind())
		}
	}
	return out.ToByteArray()
}

// Decode parses a raw UDP datagram into a Message. Only plain OSC messages
// are accepted; bundles have no use case in this protocol and are rejected
// so a malformed or unexpected bundle never reaches a driver as if it were a
// single addressed command.
func Decode(data []byte) (Message, error) {
	packet, err := osc.ParsePacket(string(data))
	if err != nil {
		return Message{}, fmt.Errorf("msg: decode: %w", err)
	}

	oscMsg, ok := packet.(*osc.Message)
	if !ok {
		return Message{}, fmt.Errorf("msg: decode: bundles are not supported")
	}

	args := make([]value.Value, 0, len(oscMsg.Arguments))
	for i, a := range oscMsg.Arguments {
		v, err := argToValue(a)
		if err != nil {
			return Message{}, fmt.Errorf("msg: decode %s: argument %d: %w", oscMsg.Address, i, err)
		}
		args = append(args, v)
	}

	return Message{Address: oscMsg.Address, Args: args}, nil
}

func argToValue(a any) (value.Value, error) {
	switch t := a.(type) {
	case int32:
		return value.Int(t), nil
	case int64:
		return value.Int(int32(t)), nil
	case float32:
		return value.Float(t), nil
	case float64:
		return value.Float(float32(t)), nil
	case string:
		return value.String(t), nil
	case bool:
		return value.Bool(t), nil
	case []byte:
		return value.Bytes(t), nil
	case nil:
		return value.Bool(false), nil
	default:
		return value.Value{}, fmt.Errorf("unsupported OSC type %T", t)
	}
}
