package registryrepo

import (
	"context"
	"errors"

	"github.com/anyproto/any-sync/app"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/db"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryapi"
)

const CName = "registry.repo"

// CollEntities is the single-table collection holding every entity variant.
const CollEntities = "entities"

func New() EntityRepo {
	return new(entityRepo)
}

// ConditionedPut is one item of a transactional multi-item commit.
// ExpectedVersion zero means insert-if-absent.
type ConditionedPut struct {
	Entity          domain.Entity
	ExpectedVersion int64
}

// Page is one result window of an index query. Next is the continuation
// token; queries are restartable by passing it back.
type Page struct {
	Entities []domain.Entity
	Next     string
}

type EntityRepo interface {
	app.ComponentRunnable

	Create(ctx context.Context, e domain.Entity) error
	// Replace writes a new snapshot conditioned on the version the caller
	// read. A lost condition surfaces as ErrConcurrentModification.
	Replace(ctx context.Context, e domain.Entity, expectedVersion int64) error
	// TxReplace commits all puts atomically or none of them.
	TxReplace(ctx context.Context, puts []ConditionedPut) error

	Get(ctx context.Context, customerId string, t domain.EntityType, identifier string) (domain.Entity, error)
	GetByTypeIdentifier(ctx context.Context, t domain.EntityType, identifier string) (domain.Entity, error)
	GetByExternalId(ctx context.Context, externalId string) (domain.Entity, error)
	QueryByTypeStatus(ctx context.Context, t domain.EntityType, status string, from string, limit int64) (Page, error)
	QueryByCustomerResource(ctx context.Context, customerId, resourceIdentifier string, from string, limit int64) (Page, error)

	FindOpenTicket(ctx context.Context, customerId, resourceIdentifier string, t domain.EntityType) (*domain.Ticket, error)
	GetChannelClaim(ctx context.Context, channelId string) (*domain.ChannelClaim, error)
	ListChannelClaims(ctx context.Context, customerId string, from string, limit int64) (Page, error)
}

var entityIndexes = []mongo.IndexModel{
	{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "status", Value: 1}},
	},
	{
		Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "resourceIdentifier", Value: 1}},
	},
	{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "identifier", Value: 1}},
	},
	{
		Keys:    bson.D{{Key: "externalIds", Value: 1}},
		Options: options.Index().SetSparse(true),
	},
	{
		// at most one open ticket of a concrete type per (customer, resource)
		Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "resourceIdentifier", Value: 1}, {Key: "type", Value: 1}},
		Options: options.Index().
			SetName("open_ticket_unique").
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "status", Value: string(domain.TicketPending)}}),
	},
	{
		Keys: bson.D{{Key: "channelId", Value: 1}},
		Options: options.Index().
			SetName("channel_claim_unique").
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "channelId", Value: bson.D{{Key: "$exists", Value: true}}}}),
	},
}

type entityRepo struct {
	db   db.Database
	coll *mongo.Collection
}

func (r *entityRepo) Name() (name string) {
	return CName
}

func (r *entityRepo) Init(a *app.App) (err error) {
	r.db = a.MustComponent(db.CName).(db.Database)
	r.coll = r.db.Db().Collection(CollEntities)
	return
}

func (r *entityRepo) Run(ctx context.Context) (err error) {
	if err = r.ensureCollection(ctx); err != nil {
		return
	}
	return ensureIndexes(ctx, r.coll, entityIndexes...)
}

// ensureCollection creates the entities collection and turns on change
// stream pre/post images, which the stream publisher relies on for the
// old/new envelope images.
func (r *entityRepo) ensureCollection(ctx context.Context) (err error) {
	names, err := r.db.Db().ListCollectionNames(ctx, bson.D{{Key: "name", Value: CollEntities}})
	if err != nil {
		return
	}
	if len(names) == 0 {
		if err = r.db.Db().CreateCollection(ctx, CollEntities); err != nil {
			return
		}
	}
	return r.db.Db().RunCommand(ctx, bson.D{
		{Key: "collMod", Value: CollEntities},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}).Err()
}

func ensureIndexes(ctx context.Context, coll *mongo.Collection, indexes ...mongo.IndexModel) (err error) {
	existingIndexes, err := coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return
	}
	if len(existingIndexes) <= 1 {
		_, err = coll.Indexes().CreateMany(ctx, indexes)
	}
	return
}

func (r *entityRepo) Create(ctx context.Context, e domain.Entity) error {
	e.Base().Version = 1
	if _, err := r.coll.InsertOne(ctx, e); err != nil {
		return mapDuplicate(err, e)
	}
	return nil
}

// mapDuplicate translates unique-index violations into the error the
// uniqueness exists to signal.
func mapDuplicate(err error, e domain.Entity) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	switch {
	case domain.IsTicketType(e.Base().Type):
		return registryapi.ErrTicketConflict
	case e.Base().Type == domain.TypeChannelClaim:
		return registryapi.ErrChannelClaimed
	default:
		return registryapi.ErrConcurrentModification
	}
}

func (r *entityRepo) Replace(ctx context.Context, e domain.Entity, expectedVersion int64) error {
	return r.replace(ctx, r.coll, e, expectedVersion)
}

func (r *entityRepo) replace(ctx context.Context, coll *mongo.Collection, e domain.Entity, expectedVersion int64) error {
	e.Base().Version = expectedVersion + 1
	res, err := coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: e.Base().Id},
		{Key: "version", Value: expectedVersion},
	}, e)
	if err != nil {
		return mapDuplicate(err, e)
	}
	if res.MatchedCount == 0 {
		count, err := coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: e.Base().Id}})
		if err != nil {
			return err
		}
		if count == 0 {
			return registryapi.ErrNotFound
		}
		return registryapi.ErrConcurrentModification
	}
	return nil
}

func (r *entityRepo) TxReplace(ctx context.Context, puts []ConditionedPut) error {
	return r.db.Tx(ctx, func(txCtx mongo.SessionContext) error {
		for _, put := range puts {
			if put.ExpectedVersion == 0 {
				put.Entity.Base().Version = 1
				if _, err := r.coll.InsertOne(txCtx, put.Entity); err != nil {
					return mapDuplicate(err, put.Entity)
				}
				continue
			}
			if err := r.replace(txCtx, r.coll, put.Entity, put.ExpectedVersion); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *entityRepo) Get(ctx context.Context, customerId string, t domain.EntityType, identifier string) (domain.Entity, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: domain.EntityId(customerId, t, identifier)}})
}

func (r *entityRepo) GetByTypeIdentifier(ctx context.Context, t domain.EntityType, identifier string) (domain.Entity, error) {
	return r.findOne(ctx, bson.D{{Key: "type", Value: t}, {Key: "identifier", Value: identifier}})
}

func (r *entityRepo) GetByExternalId(ctx context.Context, externalId string) (domain.Entity, error) {
	return r.findOne(ctx, bson.D{{Key: "externalIds", Value: externalId}})
}

func (r *entityRepo) findOne(ctx context.Context, query any) (domain.Entity, error) {
	raw, err := r.coll.FindOne(ctx, query).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, registryapi.ErrNotFound
		}
		return nil, err
	}
	return domain.DecodeEntityBSON(bson.Raw(raw))
}

func (r *entityRepo) QueryByTypeStatus(ctx context.Context, t domain.EntityType, status string, from string, limit int64) (Page, error) {
	return r.query(ctx, bson.D{{Key: "type", Value: t}, {Key: "status", Value: status}}, from, limit)
}

func (r *entityRepo) QueryByCustomerResource(ctx context.Context, customerId, resourceIdentifier string, from string, limit int64) (Page, error) {
	return r.query(ctx, bson.D{{Key: "customerId", Value: customerId}, {Key: "resourceIdentifier", Value: resourceIdentifier}}, from, limit)
}

func (r *entityRepo) ListChannelClaims(ctx context.Context, customerId string, from string, limit int64) (Page, error) {
	return r.query(ctx, bson.D{{Key: "type", Value: domain.TypeChannelClaim}, {Key: "customerId", Value: customerId}}, from, limit)
}

// query pages lazily over identifier order; from is the continuation token
// of the previous page.
func (r *entityRepo) query(ctx context.Context, filter bson.D, from string, limit int64) (page Page, err error) {
	if from != "" {
		filter = append(filter, bson.E{Key: "identifier", Value: bson.D{{Key: "$gt", Value: from}}})
	}
	opts := options.Find().SetSort(bson.D{{Key: "identifier", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	for cur.Next(ctx) {
		var e domain.Entity
		if e, err = domain.DecodeEntityBSON(bson.Raw(cur.Current)); err != nil {
			return
		}
		page.Entities = append(page.Entities, e)
	}
	if err = cur.Err(); err != nil {
		return
	}
	if limit > 0 && int64(len(page.Entities)) == limit {
		page.Next = page.Entities[len(page.Entities)-1].Base().Identifier
	}
	return
}

func (r *entityRepo) FindOpenTicket(ctx context.Context, customerId, resourceIdentifier string, t domain.EntityType) (*domain.Ticket, error) {
	e, err := r.findOne(ctx, bson.D{
		{Key: "customerId", Value: customerId},
		{Key: "resourceIdentifier", Value: resourceIdentifier},
		{Key: "type", Value: t},
		{Key: "status", Value: domain.TicketPending},
	})
	if err != nil {
		return nil, err
	}
	ticket, ok := e.(*domain.Ticket)
	if !ok {
		return nil, registryapi.ErrNotFound
	}
	return ticket, nil
}

func (r *entityRepo) GetChannelClaim(ctx context.Context, channelId string) (*domain.ChannelClaim, error) {
	e, err := r.findOne(ctx, bson.D{{Key: "type", Value: domain.TypeChannelClaim}, {Key: "channelId", Value: channelId}})
	if err != nil {
		return nil, err
	}
	claim, ok := e.(*domain.ChannelClaim)
	if !ok {
		return nil, registryapi.ErrNotFound
	}
	return claim, nil
}

func (r *entityRepo) Close(ctx context.Context) (err error) {
	return
}
