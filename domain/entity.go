package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	TypeResource          EntityType = "Resource"
	TypeDoiRequest        EntityType = "DoiRequest"
	TypePublishingRequest EntityType = "PublishingRequestCase"
	TypeSupportRequest    EntityType = "GeneralSupportRequest"
	TypeMessage           EntityType = "Message"
	TypeChannelClaim      EntityType = "PublicationChannel"
)

// Category names the index an entity's projections land in.
type Category string

const (
	CategoryResources Category = "resources"
	CategoryTickets   Category = "tickets"
	CategoryChannels  Category = "channels"
	CategoryMessages  Category = "messages"
)

func IsTicketType(t EntityType) bool {
	switch t {
	case TypeDoiRequest, TypePublishingRequest, TypeSupportRequest:
		return true
	}
	return false
}

// EntityBase carries the fields shared by every stored entity. Version is the
// optimistic-lock counter: every committed snapshot bumps it by one and every
// conditional write names the version it read.
type EntityBase struct {
	Id           string     `json:"-" bson:"_id,omitempty"`
	Type         EntityType `json:"type" bson:"type"`
	Identifier   string     `json:"identifier" bson:"identifier"`
	CustomerId   string     `json:"customerId" bson:"customerId"`
	CreatedDate  time.Time  `json:"createdDate" bson:"createdDate"`
	ModifiedDate time.Time  `json:"modifiedDate" bson:"modifiedDate"`
	Version      int64      `json:"version" bson:"version"`
}

func (b *EntityBase) Base() *EntityBase { return b }

type Entity interface {
	Base() *EntityBase
	Category() Category
}

// EntityId builds the primary key: {customerId#type} partition, identifier sort.
func EntityId(customerId string, t EntityType, identifier string) string {
	return customerId + "#" + string(t) + "/" + identifier
}

// NewIdentifier returns a lexicographically sortable, time-ordered identifier.
// uuid v7 keeps ids monotonic within one clock tick with a random tiebreaker.
func NewIdentifier() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Touch stamps a freshly built snapshot before it is handed to the store.
func (b *EntityBase) Touch(now time.Time) {
	if b.Identifier == "" {
		b.Identifier = NewIdentifier()
	}
	if b.CreatedDate.IsZero() {
		b.CreatedDate = now
	}
	b.ModifiedDate = now
	b.Id = EntityId(b.CustomerId, b.Type, b.Identifier)
}
