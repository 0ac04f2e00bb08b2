package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/bus"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/db"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/expand"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/retry"
)

const CName = "index.service"

var log = logger.NewNamed(CName)

func New() Service {
	return new(service)
}

// Service commits expanded projections into the category-scoped index store.
// Writes are whole-document and last-write-wins by the source's
// modifiedDate, so redelivery and cross-entity reordering are no-ops.
type Service interface {
	app.ComponentRunnable
}

type service struct {
	conf   Config
	policy retry.Policy
	db     db.Database
	bus    bus.Bus

	consumer   bus.Consumer
	reclaim    periodicsync.PeriodicSync
	loopCtx    context.Context
	loopCancel context.CancelFunc
	done       chan struct{}
}

func (s *service) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configSource).GetIndex().withDefaults()
	s.policy = retry.Default().WithMaxAttempts(s.conf.PublishMaxAttempts)
	s.db = a.MustComponent(db.CName).(db.Database)
	s.bus = a.MustComponent(bus.CName).(bus.Bus)
	s.done = make(chan struct{})
	return
}

func (s *service) Name() (name string) {
	return CName
}

func (s *service) Run(ctx context.Context) (err error) {
	if s.consumer, err = s.bus.NewConsumer(ctx, s.conf.Group, uuid.NewString(), expand.TopicApply, expand.TopicRemove); err != nil {
		return
	}
	s.loopCtx, s.loopCancel = context.WithCancel(context.Background())
	s.reclaim = periodicsync.NewPeriodicSync(30, 0, s.reclaimPending, log)
	s.reclaim.Run()
	go s.loop()
	return
}

func (s *service) loop() {
	defer close(s.done)
	for s.loopCtx.Err() == nil {
		msgs, err := s.consumer.Fetch(s.loopCtx, s.conf.FetchCount, 2*time.Second)
		if err != nil {
			if s.loopCtx.Err() == nil {
				log.Warn("fetch failed", zap.Error(err))
				select {
				case <-time.After(time.Second):
				case <-s.loopCtx.Done():
				}
			}
			continue
		}
		s.handleBatch(s.loopCtx, msgs)
	}
}

func (s *service) reclaimPending(ctx context.Context) error {
	if s.consumer == nil {
		return nil
	}
	msgs, err := s.consumer.Reclaim(ctx, time.Duration(s.conf.ReclaimAfterSec)*time.Second, s.conf.FetchCount)
	if err != nil {
		return err
	}
	s.handleBatch(ctx, msgs)
	return nil
}

func (s *service) handleBatch(ctx context.Context, msgs []bus.Message) {
	for _, msg := range msgs {
		if err := s.handle(ctx, msg); err != nil {
			if isPermanent(err) {
				log.Error("dead-lettering malformed projection", zap.String("id", msg.Id), zap.Error(err))
				if dlErr := s.bus.Publish(ctx, s.conf.DeadLetterTopic, msg.Payload); dlErr != nil {
					log.Warn("dead-letter publish failed", zap.Error(dlErr))
					continue
				}
			} else {
				log.Warn("index write failed, leaving for redelivery", zap.String("id", msg.Id), zap.Error(err))
				continue
			}
		}
		if ackErr := s.consumer.Ack(ctx, msg); ackErr != nil {
			log.Warn("ack failed", zap.String("id", msg.Id), zap.Error(ackErr))
		}
	}
}

func isPermanent(err error) bool {
	var syntax *json.SyntaxError
	return errors.As(err, &syntax) || errors.Is(err, errBadProjection)
}

var errBadProjection = errors.New("projection lacks index attributes")

func (s *service) handle(ctx context.Context, msg bus.Message) error {
	if msg.Topic == expand.TopicRemove {
		return s.remove(ctx, msg.Payload)
	}
	return s.apply(ctx, msg.Payload)
}

type projectionHead struct {
	Identifier            string                       `json:"identifier"`
	ModifiedDate          time.Time                    `json:"modifiedDate"`
	ConsumptionAttributes domain.ConsumptionAttributes `json:"consumptionAttributes"`
}

// apply overwrites the prior projection in full. The modifiedDate guard
// keeps a late-delivered stale snapshot from clobbering a newer one.
func (s *service) apply(ctx context.Context, payload []byte) error {
	var head projectionHead
	if err := json.Unmarshal(payload, &head); err != nil {
		return err
	}
	if head.Identifier == "" || head.ConsumptionAttributes.Index == "" {
		return errBadProjection
	}
	coll, err := s.collectionFor(head.ConsumptionAttributes.Index)
	if err != nil {
		return err
	}
	var doc bson.M
	if err = bson.UnmarshalExtJSON(payload, false, &doc); err != nil {
		return err
	}
	doc["_id"] = head.Identifier
	doc["modifiedDate"] = head.ModifiedDate

	_, err = coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: head.Identifier},
		{Key: "modifiedDate", Value: bson.D{{Key: "$lte", Value: head.ModifiedDate}}},
	}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// a newer snapshot is already committed; stale write is a no-op
			return s.confirm(ctx, head)
		}
		return err
	}
	return s.confirm(ctx, head)
}

func (s *service) confirm(ctx context.Context, head projectionHead) error {
	pointer, err := json.Marshal(domain.IndexPointer{
		Index:        head.ConsumptionAttributes.Index,
		Identifier:   head.Identifier,
		ModifiedDate: head.ModifiedDate.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.bus.Publish(ctx, s.conf.ConfirmTopic, pointer)
	})
}

func (s *service) remove(ctx context.Context, payload []byte) error {
	var order expand.RemoveOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return err
	}
	if order.Identifier == "" || order.Index == "" {
		return errBadProjection
	}
	coll, err := s.collectionFor(order.Index)
	if err != nil {
		return err
	}
	if _, err = coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: order.Identifier}}); err != nil {
		return err
	}
	return nil
}

func (s *service) collectionFor(index string) (*mongo.Collection, error) {
	switch index {
	case string(domain.CategoryResources):
		return s.db.Db().Collection("expanded_resources"), nil
	case string(domain.CategoryTickets):
		return s.db.Db().Collection("expanded_tickets"), nil
	default:
		return nil, fmt.Errorf("%w: unknown index %q", errBadProjection, index)
	}
}

func (s *service) Close(ctx context.Context) (err error) {
	if s.reclaim != nil {
		s.reclaim.Close()
	}
	if s.loopCancel != nil {
		s.loopCancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return
}
