package domain

import "time"

type ResourceStatus string

const (
	StatusDraft             ResourceStatus = "draft"
	StatusPublished         ResourceStatus = "published"
	StatusPublishedMetadata ResourceStatus = "published_metadata"
	StatusUnpublished       ResourceStatus = "unpublished"
	StatusDeleted           ResourceStatus = "deleted"
)

type ArtifactVisibility string

const (
	ArtifactPendingOpen    ArtifactVisibility = "pending_open"
	ArtifactOpen           ArtifactVisibility = "open"
	ArtifactInternal       ArtifactVisibility = "internal"
	ArtifactHidden         ArtifactVisibility = "hidden"
	ArtifactRejected       ArtifactVisibility = "rejected"
	ArtifactAdminAgreement ArtifactVisibility = "administrative_agreement"
)

// Artifact is one associated file of a resource. Administrative-agreement
// files never become visible to non-owners, whatever the resource status.
type Artifact struct {
	Identifier  string             `json:"identifier" bson:"identifier"`
	Name        string             `json:"name,omitempty" bson:"name,omitempty"`
	MimeType    string             `json:"mimeType,omitempty" bson:"mimeType,omitempty"`
	Size        int64              `json:"size,omitempty" bson:"size,omitempty"`
	Visibility  ArtifactVisibility `json:"visibility" bson:"visibility"`
	EmbargoDate *time.Time         `json:"embargoDate,omitempty" bson:"embargoDate,omitempty"`
}

type Contributor struct {
	Name        string `json:"name" bson:"name"`
	Role        string `json:"role,omitempty" bson:"role,omitempty"`
	Sequence    int    `json:"sequence,omitempty" bson:"sequence,omitempty"`
	Affiliation string `json:"affiliation,omitempty" bson:"affiliation,omitempty"`
}

type PublicationDate struct {
	Year  string `json:"year,omitempty" bson:"year,omitempty"`
	Month string `json:"month,omitempty" bson:"month,omitempty"`
	Day   string `json:"day,omitempty" bson:"day,omitempty"`
}

// PublicationInstance describes the concrete publication form (article,
// thesis, report...). The instance type decides which fields are mandatory
// at publish time.
type PublicationInstance struct {
	InstanceType  string `json:"instanceType,omitempty" bson:"instanceType,omitempty"`
	SubmittedDate string `json:"submittedDate,omitempty" bson:"submittedDate,omitempty"`
	Volume        string `json:"volume,omitempty" bson:"volume,omitempty"`
	Issue         string `json:"issue,omitempty" bson:"issue,omitempty"`
	Pages         string `json:"pages,omitempty" bson:"pages,omitempty"`
}

func (p *PublicationInstance) IsEmpty() bool {
	return p == nil || *p == PublicationInstance{}
}

type PublicationContext struct {
	ContextType string `json:"contextType,omitempty" bson:"contextType,omitempty"`
	ChannelId   string `json:"channelId,omitempty" bson:"channelId,omitempty"`
	Title       string `json:"title,omitempty" bson:"title,omitempty"`
}

func (p *PublicationContext) IsEmpty() bool {
	return p == nil || *p == PublicationContext{}
}

type Reference struct {
	Doi                 string               `json:"doi,omitempty" bson:"doi,omitempty"`
	PublicationInstance *PublicationInstance `json:"publicationInstance,omitempty" bson:"publicationInstance,omitempty"`
	PublicationContext  *PublicationContext  `json:"publicationContext,omitempty" bson:"publicationContext,omitempty"`
}

type EntityDescription struct {
	MainTitle       string            `json:"mainTitle,omitempty" bson:"mainTitle,omitempty"`
	Abstracts       map[string]string `json:"abstracts,omitempty" bson:"abstracts,omitempty"`
	Contributors    []Contributor     `json:"contributors,omitempty" bson:"contributors,omitempty"`
	PublicationDate *PublicationDate  `json:"publicationDate,omitempty" bson:"publicationDate,omitempty"`
	Reference       *Reference        `json:"reference,omitempty" bson:"reference,omitempty"`
	Language        string            `json:"language,omitempty" bson:"language,omitempty"`
}

// Resource is the canonical publication record.
type Resource struct {
	EntityBase          `bson:",inline"`
	Status              ResourceStatus     `json:"status" bson:"status"`
	Owner               string             `json:"owner,omitempty" bson:"owner,omitempty"`
	OwnerAffiliation    string             `json:"ownerAffiliation,omitempty" bson:"ownerAffiliation,omitempty"`
	EntityDescription   *EntityDescription `json:"entityDescription,omitempty" bson:"entityDescription,omitempty"`
	AssociatedArtifacts []Artifact         `json:"associatedArtifacts,omitempty" bson:"associatedArtifacts,omitempty"`
	ExternalIds         []string           `json:"externalIds,omitempty" bson:"externalIds,omitempty"`
}

func (r *Resource) Category() Category { return CategoryResources }

func (r *Resource) InstanceType() string {
	if r.EntityDescription == nil || r.EntityDescription.Reference == nil ||
		r.EntityDescription.Reference.PublicationInstance == nil {
		return ""
	}
	return r.EntityDescription.Reference.PublicationInstance.InstanceType
}

func (r *Resource) ChannelId() string {
	if r.EntityDescription == nil || r.EntityDescription.Reference == nil ||
		r.EntityDescription.Reference.PublicationContext == nil {
		return ""
	}
	return r.EntityDescription.Reference.PublicationContext.ChannelId
}
