// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package msg implements the message codec and socket: a
// slash-addressed, typed-argument control protocol over UDP, encoded with
// the OSC wire format via github.com/hypebeast/go-osc/osc.
package msg

import "github.com/mousetraptech/productionhub/internal/value"

// Message is an address plus an ordered list of typed arguments. Equality
// and dispatch keys are always case-insensitive on the address; callers that
// need dispatch-stable comparisons should lowercase Address themselves (the
// hub does this once, at the routing boundary).
type Message struct {
	Address string
	Args    []value.Value
}

// New builds a Message from bare Go values, inferring each argument's Value
// kind via value.FromAny.
func New(address string, args ...any) Message {
	vals := make([]value.Value, 0, len(args))
	for _, a := range args {
		vals = append(vals, value.FromAny(a))
	}
	return Message{Address: address, Args: vals}
}
