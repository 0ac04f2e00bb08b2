package registry

import "github.com/BIBSYSDEV/nva-publication-api-sub010/domain"

// MergeResource reconciles a re-imported record with the stored one.
// Field-level policy: an incoming empty field never overwrites an existing
// non-empty one, and an incoming non-empty field always overwrites an
// existing empty one. Structural fields are replaced wholesale only when the
// existing value is empty (all sub-fields zero), which avoids shape
// mismatches between partially populated instances. The merged snapshot
// keeps the existing entity's identity, status and version.
func MergeResource(existing, incoming *domain.Resource) *domain.Resource {
	merged := *existing
	if incoming.Owner != "" {
		merged.Owner = incoming.Owner
	}
	if incoming.OwnerAffiliation != "" {
		merged.OwnerAffiliation = incoming.OwnerAffiliation
	}
	merged.EntityDescription = mergeDescription(existing.EntityDescription, incoming.EntityDescription)
	if len(incoming.AssociatedArtifacts) > 0 && len(merged.AssociatedArtifacts) == 0 {
		merged.AssociatedArtifacts = incoming.AssociatedArtifacts
	}
	merged.ExternalIds = mergeExternalIds(existing.ExternalIds, incoming.ExternalIds)
	return &merged
}

func mergeDescription(existing, incoming *domain.EntityDescription) *domain.EntityDescription {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		cp := *incoming
		return &cp
	}
	merged := *existing
	if incoming.MainTitle != "" {
		merged.MainTitle = incoming.MainTitle
	}
	if incoming.Language != "" {
		merged.Language = incoming.Language
	}
	if len(incoming.Abstracts) > 0 && len(merged.Abstracts) == 0 {
		merged.Abstracts = incoming.Abstracts
	}
	if len(incoming.Contributors) > 0 && len(merged.Contributors) == 0 {
		merged.Contributors = incoming.Contributors
	}
	if merged.PublicationDate == nil {
		merged.PublicationDate = incoming.PublicationDate
	}
	merged.Reference = mergeReference(existing.Reference, incoming.Reference)
	return &merged
}

func mergeReference(existing, incoming *domain.Reference) *domain.Reference {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		cp := *incoming
		return &cp
	}
	merged := *existing
	if incoming.Doi != "" {
		merged.Doi = incoming.Doi
	}
	// structural fields: replace only when the existing one is empty
	if merged.PublicationInstance.IsEmpty() && !incoming.PublicationInstance.IsEmpty() {
		merged.PublicationInstance = incoming.PublicationInstance
	}
	if merged.PublicationContext.IsEmpty() && !incoming.PublicationContext.IsEmpty() {
		merged.PublicationContext = incoming.PublicationContext
	}
	return &merged
}

func mergeExternalIds(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range incoming {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}
