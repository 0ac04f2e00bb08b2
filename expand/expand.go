package expand

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/bus"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/objectstore"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/orgresolver"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryapi"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryrepo"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/retry"
)

const CName = "expand.service"

var log = logger.NewNamed(CName)

// Downstream topics feeding the persistence indexer.
const (
	TopicApply  = "registry.expanded.apply"
	TopicRemove = "registry.expanded.remove"
)

// RemoveOrder asks the indexer to drop a projection.
type RemoveOrder struct {
	Index      string `json:"index"`
	Identifier string `json:"identifier"`
}

func New() Service {
	return new(service)
}

// Service consumes change events and rebuilds denormalized projections from
// scratch. Reference lookups degrade to bare identifiers on failure; only a
// root image that cannot be decoded is fatal for an event.
type Service interface {
	app.ComponentRunnable
}

type service struct {
	conf     Config
	policy   retry.Policy
	bus      bus.Bus
	repo     registryrepo.EntityRepo
	archive  objectstore.Store
	resolver orgresolver.OrgResolver

	consumer   bus.Consumer
	reclaim    periodicsync.PeriodicSync
	loopCtx    context.Context
	loopCancel context.CancelFunc
	done       chan struct{}
}

func changeTopics() []string {
	var topics []string
	for _, cat := range []domain.Category{domain.CategoryResources, domain.CategoryTickets, domain.CategoryMessages} {
		for _, op := range []string{domain.OpCreate, domain.OpUpdate, domain.OpDelete} {
			topics = append(topics, domain.TopicFor(cat, op))
		}
	}
	return topics
}

func (s *service) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configSource).GetExpand().withDefaults()
	s.policy = retry.Default().WithMaxAttempts(s.conf.PublishMaxAttempts)
	s.bus = a.MustComponent(bus.CName).(bus.Bus)
	s.repo = a.MustComponent(registryrepo.CName).(registryrepo.EntityRepo)
	s.archive = a.MustComponent(objectstore.CName).(objectstore.Store)
	s.resolver = a.MustComponent(orgresolver.CName).(orgresolver.OrgResolver)
	s.done = make(chan struct{})
	return
}

func (s *service) Name() (name string) {
	return CName
}

func (s *service) Run(ctx context.Context) (err error) {
	if s.consumer, err = s.bus.NewConsumer(ctx, s.conf.Group, uuid.NewString(), changeTopics()...); err != nil {
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

// handleBatch processes entries one by one: a failing entry is left unacked
// for redelivery and never blocks or discards its neighbours.
func (s *service) handleBatch(ctx context.Context, msgs []bus.Message) {
	for _, msg := range msgs {
		err := s.handle(ctx, msg)
		if err != nil {
			if isPermanent(err) {
				log.Error("dead-lettering malformed event", zap.String("id", msg.Id), zap.Error(err))
				if dlErr := s.bus.Publish(ctx, s.conf.DeadLetterTopic, msg.Payload); dlErr != nil {
					log.Warn("dead-letter publish failed", zap.Error(dlErr))
					continue
				}
			} else {
				log.Warn("expansion failed, leaving for redelivery", zap.String("id", msg.Id), zap.Error(err))
				continue
			}
		}
		if ackErr := s.consumer.Ack(ctx, msg); ackErr != nil {
			log.Warn("ack failed", zap.String("id", msg.Id), zap.Error(ackErr))
		}
	}
}

func isPermanent(err error) bool {
	var unknown domain.ErrUnknownType
	var syntax *json.SyntaxError
	return errors.As(err, &unknown) || errors.As(err, &syntax)
}

func (s *service) handle(ctx context.Context, msg bus.Message) error {
	var event domain.ChangeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return err
	}
	if event.IsPointer() {
		resolved, err := s.dereference(ctx, event.Uri)
		if err != nil {
			return err
		}
		event = *resolved
	}
	if event.Operation() == domain.OpDelete {
		return s.handleDelete(ctx, event.OldImage)
	}
	entity, err := domain.UnmarshalEntity(event.NewImage)
	if err != nil {
		// the root image is the one thing expansion cannot degrade on
		return err
	}
	switch e := entity.(type) {
	case *domain.Resource:
		return s.expandResource(ctx, e)
	case *domain.Ticket:
		return s.expandTicket(ctx, e)
	case *domain.Message:
		return s.expandMessageTicket(ctx, e)
	default:
		// channel claims and other entities carry no projection
		return nil
	}
}

func (s *service) dereference(ctx context.Context, uri string) (*domain.ChangeEvent, error) {
	key := keyFromUri(uri)
	compressed, err := s.archive.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}
	var event domain.ChangeEvent
	if err = json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// keyFromUri strips the s3://bucket/ prefix of an archive pointer.
func keyFromUri(uri string) string {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func (s *service) handleDelete(ctx context.Context, oldImage json.RawMessage) error {
	entity, err := domain.UnmarshalEntity(oldImage)
	if err != nil {
		return err
	}
	category := entity.Category()
	if category != domain.CategoryResources && category != domain.CategoryTickets {
		return nil
	}
	order, err := json.Marshal(RemoveOrder{
		Index:      string(category),
		Identifier: entity.Base().Identifier,
	})
	if err != nil {
		return err
	}
	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.bus.Publish(ctx, TopicRemove, order)
	})
}

func (s *service) expandResource(ctx context.Context, res *domain.Resource) error {
	expanded := domain.ExpandedResource{
		Resource:              *res,
		Organization:          s.resolveOrg(ctx, res.OwnerAffiliation, res.CustomerId),
		ConsumptionAttributes: domain.ConsumptionAttributes{Index: string(domain.CategoryResources)},
	}
	tickets, messages, err := s.relatedTickets(ctx, res.CustomerId, res.Identifier)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		expanded.Tickets = append(expanded.Tickets, domain.ExpandedTicketRef{
			Identifier: t.Identifier,
			Type:       t.Type,
			Status:     t.Status,
			ViewState:  t.ViewState(),
			Messages:   messages[t.Identifier],
		})
	}
	return s.publishExpanded(ctx, &expanded)
}

func (s *service) expandTicket(ctx context.Context, t *domain.Ticket) error {
	expanded := domain.ExpandedTicket{
		Ticket:                *t,
		ViewedState:           t.ViewState(),
		Organization:          s.resolveOrg(ctx, "", t.CustomerId),
		ConsumptionAttributes: domain.ConsumptionAttributes{Index: string(domain.CategoryTickets)},
	}
	// reference lookups: degrade, never fail the event
	if res, err := s.getResource(ctx, t.CustomerId, t.ResourceIdentifier); err == nil {
		if res.EntityDescription != nil {
			expanded.ResourceTitle = res.EntityDescription.MainTitle
		}
	} else if !errors.Is(err, registryapi.ErrNotFound) {
		log.Warn("resource lookup failed, expanding without title",
			zap.String("resource", t.ResourceIdentifier), zap.Error(err))
	}
	_, messages, err := s.relatedTickets(ctx, t.CustomerId, t.ResourceIdentifier)
	if err != nil {
		return err
	}
	expanded.Messages = messages[t.Identifier]
	return s.publishExpanded(ctx, &expanded)
}

// expandMessageTicket re-expands the conversation's ticket so the projection
// picks up the new message.
func (s *service) expandMessageTicket(ctx context.Context, m *domain.Message) error {
	for _, tt := range []domain.EntityType{domain.TypeDoiRequest, domain.TypePublishingRequest, domain.TypeSupportRequest} {
		e, err := s.repo.Get(ctx, m.CustomerId, tt, m.TicketIdentifier)
		if err == nil {
			if t, ok := e.(*domain.Ticket); ok {
				return s.expandTicket(ctx, t)
			}
			return nil
		}
		if !errors.Is(err, registryapi.ErrNotFound) {
			return err
		}
	}
	// ticket gone; nothing to project
	return nil
}

func (s *service) getResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error) {
	e, err := s.repo.Get(ctx, customerId, domain.TypeResource, identifier)
	if err != nil {
		return nil, err
	}
	res, ok := e.(*domain.Resource)
	if !ok {
		return nil, registryapi.ErrNotFound
	}
	return res, nil
}

// resolveOrg resolves the owning organization, falling back to a bare
// identifier when the registry lookup fails (partial-success policy).
func (s *service) resolveOrg(ctx context.Context, affiliation, customerId string) *domain.ExpandedOrganization {
	orgId := affiliation
	if orgId == "" {
		orgId = customerId
	}
	if orgId == "" {
		return nil
	}
	org, err := s.resolver.Resolve(ctx, orgId)
	if err != nil {
		log.Warn("organization lookup failed, keeping bare identifier",
			zap.String("org", orgId), zap.Error(err))
		return &domain.ExpandedOrganization{Id: orgId}
	}
	return org
}

func (s *service) relatedTickets(ctx context.Context, customerId, resourceIdentifier string) ([]*domain.Ticket, map[string][]domain.ExpandedMessage, error) {
	var (
		tickets  []*domain.Ticket
		messages = map[string][]domain.ExpandedMessage{}
		from     string
	)
	for {
		page, err := s.repo.QueryByCustomerResource(ctx, customerId, resourceIdentifier, from, 100)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range page.Entities {
			switch v := e.(type) {
			case *domain.Ticket:
				tickets = append(tickets, v)
			case *domain.Message:
				messages[v.TicketIdentifier] = append(messages[v.TicketIdentifier], domain.ExpandedMessage{
					Identifier: v.Identifier,
					Sender:     v.Sender,
					Text:       v.Text,
				})
			}
		}
		if page.Next == "" {
			return tickets, messages, nil
		}
		from = page.Next
	}
}

func (s *service) publishExpanded(ctx context.Context, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.bus.Publish(ctx, TopicApply, payload)
	})
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
