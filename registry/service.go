package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryapi"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryrepo"
)

const CName = "registry.service"

var log = logger.NewNamed(CName)

func New() Service {
	return new(service)
}

// Service is the transactional writer: the only component that mutates the
// entity store. Every mutation reads the current snapshot and writes the new
// one conditioned on the version it read; a lost condition surfaces to the
// caller as ErrConcurrentModification and is never retried here.
type Service interface {
	app.ComponentRunnable

	CreateResource(ctx context.Context, res *domain.Resource) (*domain.Resource, error)
	GetResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error)
	UpdateResource(ctx context.Context, res *domain.Resource) (*domain.Resource, error)
	ImportResource(ctx context.Context, incoming *domain.Resource) (*domain.Resource, error)
	PublishResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error)
	PublishMetadata(ctx context.Context, customerId, identifier string) (*domain.Resource, error)
	UnpublishResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error)
	DeleteResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error)

	CreateTicket(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error)
	CreateTicketAutoApproved(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error)
	AssignTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier, assignee string) (*domain.Ticket, error)
	CompleteTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier string) (*domain.Ticket, error)
	CloseTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier string) (*domain.Ticket, error)
	AddMessage(ctx context.Context, m *domain.Message) (*domain.Message, error)

	ClaimChannel(ctx context.Context, claim *domain.ChannelClaim) (*domain.ChannelClaim, error)
	GetChannelClaim(ctx context.Context, channelId string) (*domain.ChannelClaim, error)
	ListChannelClaims(ctx context.Context, customerId string, from string, limit int64) (registryrepo.Page, error)
}

type service struct {
	repo registryrepo.EntityRepo
}

func (s *service) Init(a *app.App) (err error) {
	s.repo = a.MustComponent(registryrepo.CName).(registryrepo.EntityRepo)
	return
}

func (s *service) Name() (name string) {
	return CName
}

func (s *service) Run(ctx context.Context) (err error) {
	return
}

func (s *service) CreateResource(ctx context.Context, res *domain.Resource) (*domain.Resource, error) {
	res.Type = domain.TypeResource
	res.Status = domain.StatusDraft
	res.Touch(time.Now().UTC())
	if err := s.repo.Create(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) GetResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error) {
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

// UpdateResource replaces the metadata snapshot. Status is not touched here;
// lifecycle changes go through the dedicated transitions.
func (s *service) UpdateResource(ctx context.Context, res *domain.Resource) (*domain.Resource, error) {
	current, err := s.GetResource(ctx, res.CustomerId, res.Identifier)
	if err != nil {
		return nil, err
	}
	if res.Status != current.Status {
		return nil, fmt.Errorf("%w: status cannot change in an update", registryapi.ErrValidationFailure)
	}
	readVersion := res.Version
	res.Id = current.Id
	res.CreatedDate = current.CreatedDate
	res.ModifiedDate = time.Now().UTC()
	if err = s.repo.Replace(ctx, res, readVersion); err != nil {
		return nil, err
	}
	return res, nil
}

// ImportResource reconciles an externally sourced record: a new resource is
// created as draft, an existing one (matched by external id) is merged under
// the non-empty-wins policy.
func (s *service) ImportResource(ctx context.Context, incoming *domain.Resource) (*domain.Resource, error) {
	var existing *domain.Resource
	for _, extId := range incoming.ExternalIds {
		e, err := s.repo.GetByExternalId(ctx, extId)
		if err == nil {
			if res, ok := e.(*domain.Resource); ok {
				existing = res
				break
			}
		} else if !errors.Is(err, registryapi.ErrNotFound) {
			return nil, err
		}
	}
	if existing == nil {
		return s.CreateResource(ctx, incoming)
	}
	merged := MergeResource(existing, incoming)
	merged.ModifiedDate = time.Now().UTC()
	if err := s.repo.Replace(ctx, merged, existing.Version); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *service) PublishResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error) {
	return s.transition(ctx, customerId, identifier, domain.StatusPublished)
}

func (s *service) PublishMetadata(ctx context.Context, customerId, identifier string) (*domain.Resource, error) {
	return s.transition(ctx, customerId, identifier, domain.StatusPublishedMetadata)
}

func (s *service) UnpublishResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error) {
	return s.transition(ctx, customerId, identifier, domain.StatusUnpublished)
}

func (s *service) DeleteResource(ctx context.Context, customerId, identifier string) (*domain.Resource, error) {
	return s.transition(ctx, customerId, identifier, domain.StatusDeleted)
}

func (s *service) transition(ctx context.Context, customerId, identifier string, to domain.ResourceStatus) (*domain.Resource, error) {
	res, err := s.GetResource(ctx, customerId, identifier)
	if err != nil {
		return nil, err
	}
	if res.Status == to {
		return res, nil
	}
	if !canTransition(res.Status, to) {
		return nil, fmt.Errorf("%w: cannot move %s from %s to %s",
			registryapi.ErrValidationFailure, identifier, res.Status, to)
	}
	now := time.Now().UTC()
	switch to {
	case domain.StatusPublished, domain.StatusPublishedMetadata:
		if err = validateForPublication(res); err != nil {
			return nil, err
		}
		if err = s.checkChannelPolicy(ctx, res); err != nil {
			return nil, err
		}
		if to == domain.StatusPublished {
			res.AssociatedArtifacts = openArtifacts(res.AssociatedArtifacts, now)
		}
	}
	readVersion := res.Version
	res.Status = to
	res.ModifiedDate = now
	if err = s.repo.Replace(ctx, res, readVersion); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) checkChannelPolicy(ctx context.Context, res *domain.Resource) error {
	channelId := res.ChannelId()
	if channelId == "" {
		return nil
	}
	claim, err := s.repo.GetChannelClaim(ctx, channelId)
	if err != nil {
		if errors.Is(err, registryapi.ErrNotFound) {
			return nil
		}
		return err
	}
	if !channelAllowsPublishing(claim, res) {
		return fmt.Errorf("%w: channel %s is claimed owner-only by %s",
			registryapi.ErrValidationFailure, channelId, claim.CustomerId)
	}
	return nil
}

// CreateTicket has idempotent-create semantics: when an open ticket of the
// same concrete type already exists for the resource, the incoming request
// is applied to it instead of creating a duplicate.
func (s *service) CreateTicket(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	if !domain.IsTicketType(t.Type) {
		return nil, fmt.Errorf("%w: %s is not a ticket type", registryapi.ErrValidationFailure, t.Type)
	}
	if _, err := s.GetResource(ctx, t.CustomerId, t.ResourceIdentifier); err != nil {
		return nil, err
	}
	t.Status = domain.TicketPending
	t.Touch(time.Now().UTC())
	err := s.repo.Create(ctx, t)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, registryapi.ErrTicketConflict) {
		return nil, err
	}
	existing, err := s.repo.FindOpenTicket(ctx, t.CustomerId, t.ResourceIdentifier, t.Type)
	if err != nil {
		return nil, err
	}
	log.Debug("ticket create folded into existing open ticket",
		zap.String("resource", t.ResourceIdentifier), zap.String("ticket", existing.Identifier))
	return s.applyTicketUpdate(ctx, existing, t)
}

func (s *service) applyTicketUpdate(ctx context.Context, existing, incoming *domain.Ticket) (*domain.Ticket, error) {
	if len(incoming.FilesForApproval) > 0 {
		existing.FilesForApproval = incoming.FilesForApproval
	}
	if incoming.Assignee != "" {
		existing.Assignee = incoming.Assignee
	}
	readVersion := existing.Version
	existing.ModifiedDate = time.Now().UTC()
	if err := s.repo.Replace(ctx, existing, readVersion); err != nil {
		return nil, err
	}
	return existing, nil
}

// CreateTicketAutoApproved creates a publishing request already completed
// and publishes the resource's files in the same store transaction. Either
// both commit or neither does; no reader observes an intermediate state.
func (s *service) CreateTicketAutoApproved(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	if t.Type != domain.TypePublishingRequest {
		return nil, fmt.Errorf("%w: auto-approval applies to publishing requests only", registryapi.ErrValidationFailure)
	}
	res, err := s.GetResource(ctx, t.CustomerId, t.ResourceIdentifier)
	if err != nil {
		return nil, err
	}
	if !canTransition(res.Status, domain.StatusPublished) && res.Status != domain.StatusPublished {
		return nil, fmt.Errorf("%w: cannot publish %s from %s",
			registryapi.ErrValidationFailure, res.Identifier, res.Status)
	}
	if err = validateForPublication(res); err != nil {
		return nil, err
	}
	if err = s.checkChannelPolicy(ctx, res); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t.Status = domain.TicketCompleted
	t.Touch(now)

	readVersion := res.Version
	res.Status = domain.StatusPublished
	res.AssociatedArtifacts = openArtifacts(res.AssociatedArtifacts, now)
	res.ModifiedDate = now

	err = s.repo.TxReplace(ctx, []registryrepo.ConditionedPut{
		{Entity: t},
		{Entity: res, ExpectedVersion: readVersion},
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) getTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier string) (*domain.Ticket, error) {
	if !domain.IsTicketType(tt) {
		return nil, fmt.Errorf("%w: %s is not a ticket type", registryapi.ErrValidationFailure, tt)
	}
	e, err := s.repo.Get(ctx, customerId, tt, identifier)
	if err != nil {
		return nil, err
	}
	t, ok := e.(*domain.Ticket)
	if !ok {
		return nil, registryapi.ErrNotFound
	}
	return t, nil
}

func (s *service) AssignTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier, assignee string) (*domain.Ticket, error) {
	t, err := s.getTicket(ctx, customerId, tt, identifier)
	if err != nil {
		return nil, err
	}
	if !t.IsOpen() {
		return nil, fmt.Errorf("%w: ticket %s is %s", registryapi.ErrValidationFailure, identifier, t.Status)
	}
	readVersion := t.Version
	t.Assignee = assignee
	t.ModifiedDate = time.Now().UTC()
	if err = s.repo.Replace(ctx, t, readVersion); err != nil {
		return nil, err
	}
	return t, nil
}

// CompleteTicket resolves an open ticket. Completing a publishing request
// also publishes the resource's files; ticket and resource commit in one
// transaction.
func (s *service) CompleteTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier string) (*domain.Ticket, error) {
	t, err := s.getTicket(ctx, customerId, tt, identifier)
	if err != nil {
		return nil, err
	}
	if !t.IsOpen() {
		return nil, fmt.Errorf("%w: ticket %s is %s", registryapi.ErrValidationFailure, identifier, t.Status)
	}
	now := time.Now().UTC()
	readVersion := t.Version
	t.Status = domain.TicketCompleted
	t.ModifiedDate = now

	if tt != domain.TypePublishingRequest {
		if err = s.repo.Replace(ctx, t, readVersion); err != nil {
			return nil, err
		}
		return t, nil
	}

	res, err := s.GetResource(ctx, customerId, t.ResourceIdentifier)
	if err != nil {
		return nil, err
	}
	if res.Status != domain.StatusPublished && !canTransition(res.Status, domain.StatusPublished) {
		return nil, fmt.Errorf("%w: cannot publish %s from %s",
			registryapi.ErrValidationFailure, res.Identifier, res.Status)
	}
	if err = validateForPublication(res); err != nil {
		return nil, err
	}
	resVersion := res.Version
	res.Status = domain.StatusPublished
	res.AssociatedArtifacts = openArtifacts(res.AssociatedArtifacts, now)
	res.ModifiedDate = now
	err = s.repo.TxReplace(ctx, []registryrepo.ConditionedPut{
		{Entity: t, ExpectedVersion: readVersion},
		{Entity: res, ExpectedVersion: resVersion},
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) CloseTicket(ctx context.Context, customerId string, tt domain.EntityType, identifier string) (*domain.Ticket, error) {
	t, err := s.getTicket(ctx, customerId, tt, identifier)
	if err != nil {
		return nil, err
	}
	if !t.IsOpen() {
		return nil, fmt.Errorf("%w: ticket %s is %s", registryapi.ErrValidationFailure, identifier, t.Status)
	}
	readVersion := t.Version
	t.Status = domain.TicketClosed
	t.ModifiedDate = time.Now().UTC()
	if err = s.repo.Replace(ctx, t, readVersion); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) AddMessage(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	t, err := s.findAnyTicket(ctx, m.CustomerId, m.TicketIdentifier)
	if err != nil {
		return nil, err
	}
	if !t.IsOpen() {
		return nil, fmt.Errorf("%w: ticket %s is %s", registryapi.ErrValidationFailure, m.TicketIdentifier, t.Status)
	}
	m.Type = domain.TypeMessage
	m.ResourceIdentifier = t.ResourceIdentifier
	m.Touch(time.Now().UTC())
	if err = s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *service) findAnyTicket(ctx context.Context, customerId, identifier string) (*domain.Ticket, error) {
	for _, tt := range []domain.EntityType{domain.TypeDoiRequest, domain.TypePublishingRequest, domain.TypeSupportRequest} {
		e, err := s.repo.Get(ctx, customerId, tt, identifier)
		if err == nil {
			if t, ok := e.(*domain.Ticket); ok {
				return t, nil
			}
			return nil, registryapi.ErrNotFound
		}
		if !errors.Is(err, registryapi.ErrNotFound) {
			return nil, err
		}
	}
	return nil, registryapi.ErrNotFound
}

func (s *service) ClaimChannel(ctx context.Context, claim *domain.ChannelClaim) (*domain.ChannelClaim, error) {
	if claim.ChannelId == "" {
		return nil, fmt.Errorf("%w: claim has no channel id", registryapi.ErrValidationFailure)
	}
	claim.Type = domain.TypeChannelClaim
	if claim.Status == "" {
		claim.Status = domain.ChannelClaimed
	}
	claim.Touch(time.Now().UTC())
	if err := s.repo.Create(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *service) GetChannelClaim(ctx context.Context, channelId string) (*domain.ChannelClaim, error) {
	return s.repo.GetChannelClaim(ctx, channelId)
}

func (s *service) ListChannelClaims(ctx context.Context, customerId string, from string, limit int64) (registryrepo.Page, error) {
	return s.repo.ListChannelClaims(ctx, customerId, from, limit)
}

func (s *service) Close(ctx context.Context) (err error) {
	return
}
