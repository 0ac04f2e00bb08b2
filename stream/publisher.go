package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/bus"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/db"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/objectstore"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryrepo"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/retry"
)

const CName = "stream.publisher"

var log = logger.NewNamed(CName)

const collCheckpoints = "stream_checkpoints"

func New() Service {
	return new(publisher)
}

// Service tails the entity store's change-capture log and republishes every
// committed write as exactly one bus event, eventually. Per-key commit order
// is preserved; a record is checkpointed only after its event is on the bus,
// so a crash replays rather than drops.
type Service interface {
	app.ComponentRunnable
}

type publisher struct {
	conf       Config
	policy     retry.Policy
	db         db.Database
	bus        bus.Bus
	archive    objectstore.Store
	coll       *mongo.Collection
	ckptColl   *mongo.Collection
	loopCtx    context.Context
	loopCancel context.CancelFunc
	done       chan struct{}
}

func (p *publisher) Init(a *app.App) (err error) {
	p.conf = a.MustComponent("config").(configSource).GetStream().withDefaults()
	p.policy = retry.Default().WithMaxAttempts(p.conf.PublishMaxAttempts)
	p.db = a.MustComponent(db.CName).(db.Database)
	p.bus = a.MustComponent(bus.CName).(bus.Bus)
	p.archive = a.MustComponent(objectstore.CName).(objectstore.Store)
	p.coll = p.db.Db().Collection(registryrepo.CollEntities)
	p.ckptColl = p.db.Db().Collection(collCheckpoints)
	p.done = make(chan struct{})
	return
}

func (p *publisher) Name() (name string) {
	return CName
}

func (p *publisher) Run(ctx context.Context) (err error) {
	p.loopCtx, p.loopCancel = context.WithCancel(context.Background())
	go p.watchLoop()
	return
}

type changeRecord struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		Id string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.Raw `bson:"fullDocument"`
	FullDocumentBeforeChange bson.Raw `bson:"fullDocumentBeforeChange"`
}

func (p *publisher) watchLoop() {
	defer close(p.done)
	for p.loopCtx.Err() == nil {
		if err := p.watch(p.loopCtx); err != nil && p.loopCtx.Err() == nil {
			log.Warn("change stream interrupted, reopening", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-p.loopCtx.Done():
			}
		}
	}
}

func (p *publisher) watch(ctx context.Context) (err error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	token, err := p.loadCheckpoint(ctx)
	if err != nil {
		return
	}
	if token != nil {
		opts = opts.SetResumeAfter(token)
	}
	cs, err := p.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return
	}
	defer func() {
		_ = cs.Close(context.Background())
	}()
	for cs.Next(ctx) {
		var rec changeRecord
		if err = cs.Decode(&rec); err != nil {
			return
		}
		if err = p.handleRecord(ctx, rec); err != nil {
			return
		}
		if err = p.saveCheckpoint(ctx, cs.ResumeToken()); err != nil {
			return
		}
	}
	return cs.Err()
}

// handleRecord turns one log record into one bus event. Transient publish
// failures are retried per entry; entries that still fail go through the
// recovery topic so a bus outage never drops a record, and a failure on one
// entry never discards its already-published neighbours.
func (p *publisher) handleRecord(ctx context.Context, rec changeRecord) error {
	event, err := p.buildEvent(rec)
	if err != nil {
		var unknown domain.ErrUnknownType
		if errors.As(err, &unknown) {
			// permanent: dead-letter the raw record, keep the partition moving
			log.Error("unknown entity type in change record", zap.String("key", rec.DocumentKey.Id), zap.Error(err))
			return p.deadLetter(ctx, rec)
		}
		return err
	}
	if event == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if len(payload) > p.conf.InlineLimit {
		if payload, err = p.archivePayload(ctx, event, payload); err != nil {
			return err
		}
	}
	return p.publish(ctx, event.Topic, payload)
}

func (p *publisher) publish(ctx context.Context, topic string, payload []byte) error {
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		return p.bus.Publish(ctx, topic, payload)
	})
	if err == nil {
		return nil
	}
	log.Warn("publish retries exhausted, republishing via recovery topic",
		zap.String("topic", topic), zap.Error(err))
	return p.policy.Do(ctx, func(ctx context.Context) error {
		return p.bus.Publish(ctx, p.conf.RecoveryTopic, payload)
	})
}

func (p *publisher) deadLetter(ctx context.Context, rec changeRecord) error {
	raw, err := json.Marshal(map[string]any{
		"operation":   rec.OperationType,
		"documentKey": rec.DocumentKey.Id,
	})
	if err != nil {
		return err
	}
	return p.policy.Do(ctx, func(ctx context.Context) error {
		return p.bus.Publish(ctx, p.conf.RecoveryTopic, raw)
	})
}

// buildEvent maps a change record to the envelope. A nil event means the
// record is not entity-bearing (e.g. drop/invalidate) and is skipped.
func (p *publisher) buildEvent(rec changeRecord) (*domain.ChangeEvent, error) {
	var oldImage, newImage json.RawMessage
	var category domain.Category
	var operation string

	switch rec.OperationType {
	case "insert":
		operation = domain.OpCreate
	case "update", "replace":
		operation = domain.OpUpdate
	case "delete":
		operation = domain.OpDelete
	default:
		return nil, nil
	}

	if len(rec.FullDocument) > 0 {
		e, err := domain.DecodeEntityBSON(rec.FullDocument)
		if err != nil {
			return nil, err
		}
		if newImage, err = json.Marshal(e); err != nil {
			return nil, err
		}
		category = e.Category()
	}
	if len(rec.FullDocumentBeforeChange) > 0 {
		e, err := domain.DecodeEntityBSON(rec.FullDocumentBeforeChange)
		if err != nil {
			return nil, err
		}
		if oldImage, err = json.Marshal(e); err != nil {
			return nil, err
		}
		if category == "" {
			category = e.Category()
		}
	}
	if len(oldImage) == 0 && len(newImage) == 0 {
		return nil, nil
	}
	return &domain.ChangeEvent{
		Topic:    domain.TopicFor(category, operation),
		OldImage: oldImage,
		NewImage: newImage,
	}, nil
}

// archivePayload moves an oversized envelope into the object store and
// returns the pointer form of the event.
func (p *publisher) archivePayload(ctx context.Context, event *domain.ChangeEvent, payload []byte) ([]byte, error) {
	key := p.conf.ArchivePrefix + "/" + uuid.NewString() + ".snappy"
	compressed := snappy.Encode(nil, payload)
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		putErr := p.archive.Put(ctx, key, compressed)
		if putErr != nil && !objectstore.IsTransient(putErr) {
			return retry.Permanent(putErr)
		}
		return putErr
	})
	if err != nil {
		return nil, err
	}
	pointer := domain.ChangeEvent{Topic: event.Topic, Uri: p.archive.Uri(key)}
	return json.Marshal(pointer)
}

func (p *publisher) loadCheckpoint(ctx context.Context) (bson.Raw, error) {
	var doc struct {
		Token bson.Raw `bson:"token"`
	}
	err := p.ckptColl.FindOne(ctx, bson.D{{Key: "_id", Value: registryrepo.CollEntities}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Token, nil
}

func (p *publisher) saveCheckpoint(ctx context.Context, token bson.Raw) error {
	_, err := p.ckptColl.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: registryrepo.CollEntities}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "token", Value: token}, {Key: "updated", Value: time.Now().UTC()}}}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (p *publisher) Close(ctx context.Context) (err error) {
	if p.loopCancel != nil {
		p.loopCancel()
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return
}
