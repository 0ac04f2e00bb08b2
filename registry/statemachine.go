package registry

import (
	"fmt"
	"time"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryapi"
)

// canTransition enumerates the legal resource status transitions. Deleted is
// terminal; unpublished resources may be republished.
func canTransition(from, to domain.ResourceStatus) bool {
	switch from {
	case domain.StatusDraft:
		switch to {
		case domain.StatusPublished, domain.StatusPublishedMetadata, domain.StatusDeleted:
			return true
		}
	case domain.StatusPublished, domain.StatusPublishedMetadata:
		switch to {
		case domain.StatusUnpublished, domain.StatusDeleted:
			return true
		}
	case domain.StatusUnpublished:
		switch to {
		case domain.StatusPublished, domain.StatusDeleted:
			return true
		}
	}
	return false
}

// instance types that require a submitted date to be publishable
var degreeInstanceTypes = map[string]bool{
	"DegreeBachelor":   true,
	"DegreeMaster":     true,
	"DegreePhd":        true,
	"DegreeLicentiate": true,
}

// validateForPublication is the explicit required-field check run before a
// draft may leave the draft state. It never mutates the resource.
func validateForPublication(r *domain.Resource) error {
	if r.EntityDescription == nil || r.EntityDescription.MainTitle == "" {
		return fmt.Errorf("%w: resource has no main title", registryapi.ErrValidationFailure)
	}
	instanceType := r.InstanceType()
	if instanceType == "" {
		return fmt.Errorf("%w: resource has no publication instance", registryapi.ErrValidationFailure)
	}
	if degreeInstanceTypes[instanceType] &&
		r.EntityDescription.Reference.PublicationInstance.SubmittedDate == "" {
		return fmt.Errorf("%w: %s requires a submitted date", registryapi.ErrValidationFailure, instanceType)
	}
	return nil
}

// openArtifacts flips eligible pending-open files to open. Files under an
// administrative agreement stay hidden from non-owners whatever the resource
// status, and embargoed files stay pending until the embargo passes.
func openArtifacts(artifacts []domain.Artifact, now time.Time) []domain.Artifact {
	out := make([]domain.Artifact, len(artifacts))
	for i, a := range artifacts {
		if a.Visibility == domain.ArtifactPendingOpen &&
			(a.EmbargoDate == nil || !a.EmbargoDate.After(now)) {
			a.Visibility = domain.ArtifactOpen
		}
		out[i] = a
	}
	return out
}

// channelAllowsPublishing implements the claim constraint: an owner-only
// claim on the resource's channel blocks publishing by any other customer.
// A missing or non-claimed claim never blocks.
func channelAllowsPublishing(claim *domain.ChannelClaim, r *domain.Resource) bool {
	if claim == nil || claim.Status != domain.ChannelClaimed {
		return true
	}
	if !claim.Constraint.AppliesTo(r.InstanceType()) {
		return true
	}
	if claim.Constraint.PublishesPolicy == domain.PolicyEveryone {
		return true
	}
	return claim.CustomerId == r.CustomerId
}
