package domain

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrUnknownType is returned for payloads whose discriminator names no
// entity variant. Such payloads are permanent failures for consumers.
type ErrUnknownType struct {
	Type string
}

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown entity type %q", e.Type)
}

func newEntity(t EntityType) (Entity, error) {
	switch t {
	case TypeResource:
		return &Resource{}, nil
	case TypeDoiRequest, TypePublishingRequest, TypeSupportRequest:
		return &Ticket{}, nil
	case TypeMessage:
		return &Message{}, nil
	case TypeChannelClaim:
		return &ChannelClaim{}, nil
	default:
		return nil, ErrUnknownType{Type: string(t)}
	}
}

// UnmarshalEntity decodes the wire (JSON) form of an entity, dispatching on
// the type discriminator.
func UnmarshalEntity(data []byte) (Entity, error) {
	var head struct {
		Type EntityType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	e, err := newEntity(head.Type)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	e.Base().Id = EntityId(e.Base().CustomerId, head.Type, e.Base().Identifier)
	return e, nil
}

// DecodeEntityBSON decodes a stored document, dispatching on the type
// discriminator.
func DecodeEntityBSON(raw bson.Raw) (Entity, error) {
	var head struct {
		Type EntityType `bson:"type"`
	}
	if err := bson.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	e, err := newEntity(head.Type)
	if err != nil {
		return nil, err
	}
	if err = bson.Unmarshal(raw, e); err != nil {
		return nil, err
	}
	return e, nil
}
