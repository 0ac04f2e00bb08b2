package index

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/bus"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/db"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/expand"
)

var ctx = context.Background()

func projectionPayload(t *testing.T, identifier, title string, modified time.Time) []byte {
	ticket := domain.ExpandedTicket{
		Ticket: domain.Ticket{
			EntityBase: domain.EntityBase{
				Type:         domain.TypePublishingRequest,
				Identifier:   identifier,
				CustomerId:   "c1",
				ModifiedDate: modified,
			},
			Status: domain.TicketPending,
		},
		ResourceTitle:         title,
		ViewedState:           domain.ViewStateNew,
		ConsumptionAttributes: domain.ConsumptionAttributes{Index: string(domain.CategoryTickets)},
	}
	payload, err := json.Marshal(ticket)
	require.NoError(t, err)
	return payload
}

func TestIndex_Apply(t *testing.T) {
	t.Run("projection is committed by identifier", func(t *testing.T) {
		fx := newFixture(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, fx.svc.apply(ctx, projectionPayload(t, "t1", "On Testing", now)))

		var doc bson.M
		err := fx.tickets().FindOne(ctx, bson.D{{Key: "_id", Value: "t1"}}).Decode(&doc)
		require.NoError(t, err)
		assert.Equal(t, "On Testing", doc["resourceTitle"])

		require.Len(t, fx.bus.published, 1)
		assert.Equal(t, fx.svc.conf.ConfirmTopic, fx.bus.published[0].topic)
		var pointer domain.IndexPointer
		require.NoError(t, json.Unmarshal(fx.bus.published[0].payload, &pointer))
		assert.Equal(t, "t1", pointer.Identifier)
		assert.Equal(t, string(domain.CategoryTickets), pointer.Index)
	})
	t.Run("stale snapshot never clobbers a newer one", func(t *testing.T) {
		fx := newFixture(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, fx.svc.apply(ctx, projectionPayload(t, "t1", "newer", now)))
		require.NoError(t, fx.svc.apply(ctx, projectionPayload(t, "t1", "stale", now.Add(-time.Hour))))

		var doc bson.M
		err := fx.tickets().FindOne(ctx, bson.D{{Key: "_id", Value: "t1"}}).Decode(&doc)
		require.NoError(t, err)
		assert.Equal(t, "newer", doc["resourceTitle"])
		// the stale redelivery is still confirmed so it can be acked
		assert.Len(t, fx.bus.published, 2)
	})
	t.Run("newer snapshot overwrites", func(t *testing.T) {
		fx := newFixture(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, fx.svc.apply(ctx, projectionPayload(t, "t1", "old", now)))
		require.NoError(t, fx.svc.apply(ctx, projectionPayload(t, "t1", "new", now.Add(time.Hour))))

		var doc bson.M
		err := fx.tickets().FindOne(ctx, bson.D{{Key: "_id", Value: "t1"}}).Decode(&doc)
		require.NoError(t, err)
		assert.Equal(t, "new", doc["resourceTitle"])
	})
	t.Run("equal modifiedDate replays idempotently", func(t *testing.T) {
		fx := newFixture(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		payload := projectionPayload(t, "t1", "same", now)
		require.NoError(t, fx.svc.apply(ctx, payload))
		require.NoError(t, fx.svc.apply(ctx, payload))

		count, err := fx.tickets().CountDocuments(ctx, bson.D{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
	t.Run("projection without identifier is permanent", func(t *testing.T) {
		fx := newFixture(t)
		err := fx.svc.apply(ctx, []byte(`{"consumptionAttributes":{"index":"tickets"}}`))
		require.Error(t, err)
		assert.True(t, isPermanent(err))
	})
	t.Run("unknown index is rejected", func(t *testing.T) {
		fx := newFixture(t)
		err := fx.svc.apply(ctx, []byte(`{"identifier":"t1","consumptionAttributes":{"index":"people"}}`))
		require.Error(t, err)
	})
}

func TestIndex_Remove(t *testing.T) {
	fx := newFixture(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, fx.svc.apply(ctx, projectionPayload(t, "t1", "On Testing", now)))

	order, err := json.Marshal(expand.RemoveOrder{Index: string(domain.CategoryTickets), Identifier: "t1"})
	require.NoError(t, err)
	require.NoError(t, fx.svc.remove(ctx, order))

	count, err := fx.tickets().CountDocuments(ctx, bson.D{{Key: "_id", Value: "t1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// removing an absent projection is a no-op
	require.NoError(t, fx.svc.remove(ctx, order))
}

func newFixture(t testing.TB) *fixture {
	fx := &fixture{
		svc: New().(*service),
		bus: &stubBus{},
		a:   new(app.App),
	}
	fx.a.Register(&testConfig{
		Mongo: db.Mongo{
			Connect:  "mongodb://localhost:27017/?replicaSet=rs0",
			Database: "registry_unittest",
		},
	}).
		Register(db.New()).
		Register(fx.bus).
		Register(fx.svc)
	require.NoError(t, fx.a.Start(ctx))
	t.Cleanup(func() {
		fx.finish(t)
	})
	return fx
}

type fixture struct {
	svc *service
	bus *stubBus
	a   *app.App
}

func (fx *fixture) tickets() *mongo.Collection {
	return fx.svc.db.Db().Collection("expanded_tickets")
}

func (fx *fixture) finish(t testing.TB) {
	_ = fx.tickets().Drop(ctx)
	_ = fx.svc.db.Db().Collection("expanded_resources").Drop(ctx)
	require.NoError(t, fx.a.Close(ctx))
}

type testConfig struct {
	Mongo db.Mongo
}

func (t testConfig) Init(a *app.App) (err error) { return }

func (t testConfig) Name() (name string) { return "config" }

func (t testConfig) GetMongo() db.Mongo { return t.Mongo }

func (t testConfig) GetIndex() Config { return Config{} }

func (t testConfig) GetBus() bus.Config { return bus.Config{} }

type publishedMsg struct {
	topic   string
	payload []byte
}

type stubBus struct {
	published []publishedMsg
}

func (b *stubBus) Init(a *app.App) (err error) { return }

func (b *stubBus) Name() (name string) { return bus.CName }

func (b *stubBus) Run(ctx context.Context) error { return nil }

func (b *stubBus) Close(ctx context.Context) error { return nil }

func (b *stubBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.published = append(b.published, publishedMsg{topic: topic, payload: payload})
	return nil
}

func (b *stubBus) NewConsumer(ctx context.Context, group, name string, topics ...string) (bus.Consumer, error) {
	return &stubConsumer{}, nil
}

type stubConsumer struct{}

func (c *stubConsumer) Fetch(ctx context.Context, count int64, block time.Duration) ([]bus.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(block):
		return nil, nil
	}
}

func (c *stubConsumer) Ack(ctx context.Context, msg bus.Message) error { return nil }

func (c *stubConsumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]bus.Message, error) {
	return nil, nil
}
