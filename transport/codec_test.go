package transport_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
	"github.com/adamgarcia4/goLearning/chandylamport/transport"
)

func TestCodecRoundTrip(t *testing.T) {
	marker := snapshot.NewMarker("glados")
	messages := []transport.Message{
		transport.NewTransfer("doors", 42),
		transport.NewTransfer("doors", 0),
		transport.NewTransfer("doors", -17),
		transport.NewTransfer("doors", math.MaxInt64),
		transport.NewMarker("hendrix", marker),
		transport.NewExit("hendrix"),
	}

	for _, msg := range messages {
		t.Run(msg.String(), func(t *testing.T) {
			wire, err := transport.Encode(msg)
			require.NoError(t, err)
			decoded, err := transport.Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	marker := snapshot.NewMarker("glados")
	cases := map[string]map[string]interface{}{
		"missing kind":      {"sender": "doors"},
		"unknown kind":      {"kind": "DEPM", "sender": "doors"},
		"missing sender":    {"kind": "exit"},
		"empty sender":      {"kind": "exit", "sender": ""},
		"missing amount":    {"kind": "transfer", "sender": "doors"},
		"numeric amount":    {"kind": "transfer", "sender": "doors", "amount": 12},
		"non integer":       {"kind": "transfer", "sender": "doors", "amount": "12.5"},
		"missing id":        {"kind": "marker", "sender": "doors", "initiator": "glados"},
		"bad id":            {"kind": "marker", "sender": "doors", "id": "not-a-uuid", "initiator": "glados"},
		"missing initiator": {"kind": "marker", "sender": "doors", "id": string(marker.ID)},
		"empty initiator":   {"kind": "marker", "sender": "doors", "id": string(marker.ID), "initiator": ""},
	}

	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			wire, err := structpb.NewStruct(fields)
			require.NoError(t, err)
			_, err = transport.Decode(wire)
			assert.ErrorIs(t, err, transport.ErrMalformedMessage)
		})
	}

	_, err := transport.Decode(nil)
	assert.ErrorIs(t, err, transport.ErrMalformedMessage)
}

func TestEncodeRejectsInvalidMessage(t *testing.T) {
	_, err := transport.Encode(transport.Message{Kind: transport.KindTransfer, Amount: 5})
	assert.ErrorIs(t, err, transport.ErrMalformedMessage)

	_, err = transport.Encode(transport.NewMarker("doors", snapshot.Marker{ID: "x", Initiator: "glados"}))
	assert.ErrorIs(t, err, transport.ErrMalformedMessage)
}
