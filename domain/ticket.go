package domain

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketCompleted TicketStatus = "completed"
	TicketClosed    TicketStatus = "closed"
)

// TicketViewState is the externally observed state of a ticket. "New" is
// derived, never stored: a pending ticket without an assignee reads as New.
type TicketViewState string

const (
	ViewStateNew       TicketViewState = "New"
	ViewStatePending   TicketViewState = "Pending"
	ViewStateCompleted TicketViewState = "Completed"
	ViewStateClosed    TicketViewState = "Closed"
	ViewStateUnknown   TicketViewState = "Unknown"
)

// ViewState is the single canonical derivation of the display state.
// Unknown statuses are reported as Unknown, never defaulted to Pending.
func ViewState(status TicketStatus, assignee string) TicketViewState {
	switch status {
	case TicketPending:
		if assignee == "" {
			return ViewStateNew
		}
		return ViewStatePending
	case TicketCompleted:
		return ViewStateCompleted
	case TicketClosed:
		return ViewStateClosed
	default:
		return ViewStateUnknown
	}
}

// Ticket is a workflow request raised against exactly one resource. The
// concrete kind (doi request, publishing request, support request) is the
// entity type discriminator; FilesForApproval is only meaningful for
// publishing requests.
type Ticket struct {
	EntityBase         `bson:",inline"`
	Status             TicketStatus `json:"status" bson:"status"`
	Assignee           string       `json:"assignee,omitempty" bson:"assignee,omitempty"`
	Owner              string       `json:"owner,omitempty" bson:"owner,omitempty"`
	ResourceIdentifier string       `json:"resourceIdentifier" bson:"resourceIdentifier"`
	FilesForApproval   []Artifact   `json:"filesForApproval,omitempty" bson:"filesForApproval,omitempty"`
}

func (t *Ticket) Category() Category { return CategoryTickets }

func (t *Ticket) ViewState() TicketViewState {
	return ViewState(t.Status, t.Assignee)
}

func (t *Ticket) IsOpen() bool {
	return t.Status == TicketPending
}

// Message is a note attached to a ticket's conversation.
type Message struct {
	EntityBase         `bson:",inline"`
	TicketIdentifier   string `json:"ticketIdentifier" bson:"ticketIdentifier"`
	ResourceIdentifier string `json:"resourceIdentifier" bson:"resourceIdentifier"`
	Sender             string `json:"sender,omitempty" bson:"sender,omitempty"`
	Text               string `json:"text" bson:"text"`
}

func (m *Message) Category() Category { return CategoryMessages }
