package domain

// ConsumptionAttributes name the destination index of an expanded document.
type ConsumptionAttributes struct {
	Index string `json:"index" bson:"index"`
}

// ExpandedOrganization is a resolved organization reference: the identifier
// plus human-readable labels and the hierarchy it belongs to. When resolution
// fails only Id is set.
type ExpandedOrganization struct {
	Id     string                `json:"id" bson:"id"`
	Labels map[string]string     `json:"labels,omitempty" bson:"labels,omitempty"`
	PartOf *ExpandedOrganization `json:"partOf,omitempty" bson:"partOf,omitempty"`
}

func (o *ExpandedOrganization) Resolved() bool {
	return o != nil && len(o.Labels) > 0
}

// ExpandedMessage is a ticket message inlined into a projection.
type ExpandedMessage struct {
	Identifier string `json:"identifier" bson:"identifier"`
	Sender     string `json:"sender,omitempty" bson:"sender,omitempty"`
	Text       string `json:"text" bson:"text"`
}

// ExpandedTicketRef summarizes a ticket inside an expanded resource.
type ExpandedTicketRef struct {
	Identifier string            `json:"identifier" bson:"identifier"`
	Type       EntityType        `json:"type" bson:"type"`
	Status     TicketStatus      `json:"status" bson:"status"`
	ViewState  TicketViewState   `json:"viewState" bson:"viewState"`
	Messages   []ExpandedMessage `json:"messages,omitempty" bson:"messages,omitempty"`
}

// ExpandedResource is the denormalized, search-ready projection of a
// resource. It is rebuilt whole on every relevant change.
type ExpandedResource struct {
	Resource              `bson:",inline"`
	Organization          *ExpandedOrganization `json:"organization,omitempty" bson:"organization,omitempty"`
	Tickets               []ExpandedTicketRef   `json:"tickets,omitempty" bson:"tickets,omitempty"`
	ConsumptionAttributes ConsumptionAttributes `json:"consumptionAttributes" bson:"consumptionAttributes"`
}

// ExpandedTicket is the denormalized projection of a ticket, with the
// resource title and conversation inlined.
type ExpandedTicket struct {
	Ticket                `bson:",inline"`
	ResourceTitle         string                `json:"resourceTitle,omitempty" bson:"resourceTitle,omitempty"`
	ViewedState           TicketViewState       `json:"viewState" bson:"viewState"`
	Organization          *ExpandedOrganization `json:"organization,omitempty" bson:"organization,omitempty"`
	Messages              []ExpandedMessage     `json:"messages,omitempty" bson:"messages,omitempty"`
	ConsumptionAttributes ConsumptionAttributes `json:"consumptionAttributes" bson:"consumptionAttributes"`
}
