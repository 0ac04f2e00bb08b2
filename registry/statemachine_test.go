package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryapi"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to domain.ResourceStatus
	}{
		{domain.StatusDraft, domain.StatusPublished},
		{domain.StatusDraft, domain.StatusPublishedMetadata},
		{domain.StatusDraft, domain.StatusDeleted},
		{domain.StatusPublished, domain.StatusUnpublished},
		{domain.StatusPublished, domain.StatusDeleted},
		{domain.StatusPublishedMetadata, domain.StatusUnpublished},
		{domain.StatusPublishedMetadata, domain.StatusDeleted},
		{domain.StatusUnpublished, domain.StatusPublished},
		{domain.StatusUnpublished, domain.StatusDeleted},
	}
	for _, tr := range allowed {
		assert.True(t, canTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
	forbidden := []struct {
		from, to domain.ResourceStatus
	}{
		{domain.StatusPublished, domain.StatusDraft},
		{domain.StatusUnpublished, domain.StatusDraft},
		{domain.StatusUnpublished, domain.StatusPublishedMetadata},
		{domain.StatusDeleted, domain.StatusDraft},
		{domain.StatusDeleted, domain.StatusPublished},
		{domain.StatusDraft, domain.StatusUnpublished},
	}
	for _, tr := range forbidden {
		assert.False(t, canTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func publishableResource() *domain.Resource {
	return &domain.Resource{
		EntityBase: domain.EntityBase{Type: domain.TypeResource, Identifier: "r1", CustomerId: "c1"},
		Status:     domain.StatusDraft,
		EntityDescription: &domain.EntityDescription{
			MainTitle: "On Testing",
			Reference: &domain.Reference{
				PublicationInstance: &domain.PublicationInstance{InstanceType: "AcademicArticle"},
			},
		},
	}
}

func TestValidateForPublication(t *testing.T) {
	t.Run("complete article", func(t *testing.T) {
		require.NoError(t, validateForPublication(publishableResource()))
	})
	t.Run("no main title", func(t *testing.T) {
		res := publishableResource()
		res.EntityDescription.MainTitle = ""
		assert.ErrorIs(t, validateForPublication(res), registryapi.ErrValidationFailure)
	})
	t.Run("no description at all", func(t *testing.T) {
		res := publishableResource()
		res.EntityDescription = nil
		assert.ErrorIs(t, validateForPublication(res), registryapi.ErrValidationFailure)
	})
	t.Run("no publication instance", func(t *testing.T) {
		res := publishableResource()
		res.EntityDescription.Reference.PublicationInstance = nil
		assert.ErrorIs(t, validateForPublication(res), registryapi.ErrValidationFailure)
	})
	t.Run("degree without submitted date", func(t *testing.T) {
		res := publishableResource()
		res.EntityDescription.Reference.PublicationInstance.InstanceType = "DegreePhd"
		assert.ErrorIs(t, validateForPublication(res), registryapi.ErrValidationFailure)
	})
	t.Run("degree with submitted date", func(t *testing.T) {
		res := publishableResource()
		res.EntityDescription.Reference.PublicationInstance.InstanceType = "DegreePhd"
		res.EntityDescription.Reference.PublicationInstance.SubmittedDate = "2025-01-15"
		require.NoError(t, validateForPublication(res))
	})
}

func TestOpenArtifacts(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	in := []domain.Artifact{
		{Identifier: "a1", Visibility: domain.ArtifactPendingOpen},
		{Identifier: "a2", Visibility: domain.ArtifactPendingOpen, EmbargoDate: &future},
		{Identifier: "a3", Visibility: domain.ArtifactPendingOpen, EmbargoDate: &past},
		{Identifier: "a4", Visibility: domain.ArtifactAdminAgreement},
		{Identifier: "a5", Visibility: domain.ArtifactInternal},
		{Identifier: "a6", Visibility: domain.ArtifactRejected},
	}
	out := openArtifacts(in, now)
	require.Len(t, out, len(in))
	assert.Equal(t, domain.ArtifactOpen, out[0].Visibility)
	assert.Equal(t, domain.ArtifactPendingOpen, out[1].Visibility, "embargoed file stays pending")
	assert.Equal(t, domain.ArtifactOpen, out[2].Visibility, "expired embargo opens")
	assert.Equal(t, domain.ArtifactAdminAgreement, out[3].Visibility, "administrative agreement never opens")
	assert.Equal(t, domain.ArtifactInternal, out[4].Visibility)
	assert.Equal(t, domain.ArtifactRejected, out[5].Visibility)
	// input slice is untouched
	assert.Equal(t, domain.ArtifactPendingOpen, in[0].Visibility)
}

func TestChannelAllowsPublishing(t *testing.T) {
	res := publishableResource()
	ownerOnly := &domain.ChannelClaim{
		EntityBase: domain.EntityBase{Type: domain.TypeChannelClaim, CustomerId: "c1"},
		ChannelId:  "chan-9",
		Status:     domain.ChannelClaimed,
		Constraint: domain.ChannelConstraint{PublishesPolicy: domain.PolicyOwnerOnly},
	}

	assert.True(t, channelAllowsPublishing(nil, res), "no claim never blocks")
	assert.True(t, channelAllowsPublishing(ownerOnly, res), "owner publishes freely")

	other := publishableResource()
	other.CustomerId = "c2"
	assert.False(t, channelAllowsPublishing(ownerOnly, other), "owner-only blocks other customers")

	everyone := *ownerOnly
	everyone.Constraint.PublishesPolicy = domain.PolicyEveryone
	assert.True(t, channelAllowsPublishing(&everyone, other))

	nonClaimed := *ownerOnly
	nonClaimed.Status = domain.ChannelNonClaimed
	assert.True(t, channelAllowsPublishing(&nonClaimed, other))

	scoped := *ownerOnly
	scoped.Constraint.Scope = []string{"DegreePhd"}
	assert.True(t, channelAllowsPublishing(&scoped, other), "constraint out of scope for articles")
}
