package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUnmarshalEntity(t *testing.T) {
	t.Run("resource", func(t *testing.T) {
		data := []byte(`{"type":"Resource","identifier":"r1","customerId":"c1","status":"draft"}`)
		e, err := UnmarshalEntity(data)
		require.NoError(t, err)
		res, ok := e.(*Resource)
		require.True(t, ok)
		assert.Equal(t, StatusDraft, res.Status)
		assert.Equal(t, CategoryResources, res.Category())
		assert.Equal(t, "c1#Resource/r1", res.Id)
	})
	t.Run("every ticket kind decodes to Ticket", func(t *testing.T) {
		for _, tt := range []EntityType{TypeDoiRequest, TypePublishingRequest, TypeSupportRequest} {
			data, err := json.Marshal(&Ticket{
				EntityBase:         EntityBase{Type: tt, Identifier: "t1", CustomerId: "c1"},
				Status:             TicketPending,
				ResourceIdentifier: "r1",
			})
			require.NoError(t, err)
			e, err := UnmarshalEntity(data)
			require.NoError(t, err)
			ticket, ok := e.(*Ticket)
			require.True(t, ok, "type %s", tt)
			assert.Equal(t, tt, ticket.Type)
			assert.Equal(t, CategoryTickets, ticket.Category())
		}
	})
	t.Run("message", func(t *testing.T) {
		data := []byte(`{"type":"Message","identifier":"m1","customerId":"c1","ticketIdentifier":"t1","text":"hi"}`)
		e, err := UnmarshalEntity(data)
		require.NoError(t, err)
		msg, ok := e.(*Message)
		require.True(t, ok)
		assert.Equal(t, "t1", msg.TicketIdentifier)
	})
	t.Run("channel claim", func(t *testing.T) {
		data := []byte(`{"type":"PublicationChannel","identifier":"ch1","customerId":"c1","channelId":"chan-9","claimStatus":"claimed"}`)
		e, err := UnmarshalEntity(data)
		require.NoError(t, err)
		claim, ok := e.(*ChannelClaim)
		require.True(t, ok)
		assert.Equal(t, ChannelClaimed, claim.Status)
	})
	t.Run("unknown type", func(t *testing.T) {
		_, err := UnmarshalEntity([]byte(`{"type":"Banana","identifier":"x"}`))
		var unknown ErrUnknownType
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "Banana", unknown.Type)
	})
	t.Run("malformed json", func(t *testing.T) {
		_, err := UnmarshalEntity([]byte(`{"type":`))
		require.Error(t, err)
	})
}

func TestDecodeEntityBSON(t *testing.T) {
	res := &Resource{
		EntityBase: EntityBase{
			Id:         EntityId("c1", TypeResource, "r1"),
			Type:       TypeResource,
			Identifier: "r1",
			CustomerId: "c1",
		},
		Status: StatusPublished,
		EntityDescription: &EntityDescription{
			MainTitle: "On Testing",
		},
	}
	raw, err := bson.Marshal(res)
	require.NoError(t, err)
	e, err := DecodeEntityBSON(raw)
	require.NoError(t, err)
	got, ok := e.(*Resource)
	require.True(t, ok)
	assert.Equal(t, res.Id, got.Id)
	assert.Equal(t, StatusPublished, got.Status)
	assert.Equal(t, "On Testing", got.EntityDescription.MainTitle)
}

func TestChangeEventOperation(t *testing.T) {
	img := json.RawMessage(`{}`)
	assert.Equal(t, OpCreate, ChangeEvent{NewImage: img}.Operation())
	assert.Equal(t, OpDelete, ChangeEvent{OldImage: img}.Operation())
	assert.Equal(t, OpUpdate, ChangeEvent{OldImage: img, NewImage: img}.Operation())
	assert.True(t, ChangeEvent{Uri: "s3://b/k"}.IsPointer())
	assert.False(t, ChangeEvent{NewImage: img}.IsPointer())
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "registry.resources.create", TopicFor(CategoryResources, OpCreate))
	assert.Equal(t, "registry.tickets.delete", TopicFor(CategoryTickets, OpDelete))
}
