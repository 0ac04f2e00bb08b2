package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
)

func TestMergeResource(t *testing.T) {
	t.Run("incoming empty never overwrites", func(t *testing.T) {
		existing := publishableResource()
		existing.Owner = "owner@example.org"
		existing.Version = 3
		incoming := &domain.Resource{
			EntityBase: domain.EntityBase{Type: domain.TypeResource},
		}
		merged := MergeResource(existing, incoming)
		assert.Equal(t, "owner@example.org", merged.Owner)
		assert.Equal(t, "On Testing", merged.EntityDescription.MainTitle)
		assert.Equal(t, int64(3), merged.Version)
		assert.Equal(t, existing.Status, merged.Status)
	})
	t.Run("incoming non-empty fills the gaps", func(t *testing.T) {
		existing := publishableResource()
		incoming := &domain.Resource{
			Owner:            "imported@example.org",
			OwnerAffiliation: "org-1",
			EntityDescription: &domain.EntityDescription{
				Language:  "en",
				Abstracts: map[string]string{"en": "short"},
			},
		}
		merged := MergeResource(existing, incoming)
		assert.Equal(t, "imported@example.org", merged.Owner)
		assert.Equal(t, "org-1", merged.OwnerAffiliation)
		assert.Equal(t, "en", merged.EntityDescription.Language)
		assert.Equal(t, "short", merged.EntityDescription.Abstracts["en"])
		assert.Equal(t, "On Testing", merged.EntityDescription.MainTitle)
	})
	t.Run("structural replace only when existing is empty", func(t *testing.T) {
		existing := publishableResource()
		incoming := publishableResource()
		incoming.EntityDescription.Reference.PublicationInstance = &domain.PublicationInstance{
			InstanceType: "DegreePhd",
			Volume:       "12",
		}
		merged := MergeResource(existing, incoming)
		assert.Equal(t, "AcademicArticle", merged.EntityDescription.Reference.PublicationInstance.InstanceType)

		existing.EntityDescription.Reference.PublicationInstance = nil
		merged = MergeResource(existing, incoming)
		assert.Equal(t, "DegreePhd", merged.EntityDescription.Reference.PublicationInstance.InstanceType)
	})
	t.Run("external ids union", func(t *testing.T) {
		existing := publishableResource()
		existing.ExternalIds = []string{"cristin:1", "scopus:9"}
		incoming := &domain.Resource{ExternalIds: []string{"scopus:9", "wos:4"}}
		merged := MergeResource(existing, incoming)
		assert.Equal(t, []string{"cristin:1", "scopus:9", "wos:4"}, merged.ExternalIds)
	})
	t.Run("artifacts replaced only when absent", func(t *testing.T) {
		existing := publishableResource()
		incoming := &domain.Resource{
			AssociatedArtifacts: []domain.Artifact{{Identifier: "a1", Visibility: domain.ArtifactPendingOpen}},
		}
		merged := MergeResource(existing, incoming)
		require.Len(t, merged.AssociatedArtifacts, 1)

		existing.AssociatedArtifacts = []domain.Artifact{{Identifier: "a0", Visibility: domain.ArtifactOpen}}
		merged = MergeResource(existing, incoming)
		require.Len(t, merged.AssociatedArtifacts, 1)
		assert.Equal(t, "a0", merged.AssociatedArtifacts[0].Identifier)
	})
}
