package transport

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

// Wire keys. Messages travel as a flat google.protobuf.Struct of strings;
// amount is a decimal string so every int64 round-trips exactly.
const (
	fieldKind      = "kind"
	fieldSender    = "sender"
	fieldAmount    = "amount"
	fieldID        = "id"
	fieldInitiator = "initiator"
)

// Encode converts a message to its wire form.
func Encode(msg Message) (*structpb.Struct, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		fieldKind:   string(msg.Kind),
		fieldSender: string(msg.Sender),
	}
	switch msg.Kind {
	case KindTransfer:
		fields[fieldAmount] = strconv.FormatInt(msg.Amount, 10)
	case KindMarker:
		fields[fieldID] = string(msg.Marker.ID)
		fields[fieldInitiator] = string(msg.Marker.Initiator)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Kind, err)
	}
	return s, nil
}

// Decode converts a wire message back, rejecting missing or invalid fields.
func Decode(s *structpb.Struct) (Message, error) {
	if s == nil {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	kind, err := stringField(s, fieldKind)
	if err != nil {
		return Message{}, err
	}
	sender, err := stringField(s, fieldSender)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Kind: Kind(kind), Sender: snapshot.PeerID(sender)}
	switch msg.Kind {
	case KindTransfer:
		raw, err := stringField(s, fieldAmount)
		if err != nil {
			return Message{}, err
		}
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: amount %q: %v", ErrMalformedMessage, raw, err)
		}
		msg.Amount = amount
	case KindMarker:
		id, err := stringField(s, fieldID)
		if err != nil {
			return Message{}, err
		}
		initiator, err := stringField(s, fieldInitiator)
		if err != nil {
			return Message{}, err
		}
		marker, err := snapshot.ParseMarker(id, initiator)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg.Marker = marker
	}

	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedMessage, name)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformedMessage, name)
	}
	return str.StringValue, nil
}
