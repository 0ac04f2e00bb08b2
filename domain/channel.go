package domain

type ChannelClaimStatus string

const (
	ChannelClaimed    ChannelClaimStatus = "claimed"
	ChannelNonClaimed ChannelClaimStatus = "non_claimed"
)

type ChannelPolicy string

const (
	PolicyOwnerOnly ChannelPolicy = "owner_only"
	PolicyEveryone  ChannelPolicy = "everyone"
)

// ChannelConstraint is the publishing/editing policy attached to a claim.
// Scope lists the publication instance types the constraint applies to; an
// empty scope applies to all of them.
type ChannelConstraint struct {
	PublishesPolicy ChannelPolicy `json:"publishesPolicy" bson:"publishesPolicy"`
	EditsPolicy     ChannelPolicy `json:"editsPolicy" bson:"editsPolicy"`
	Scope           []string      `json:"scope,omitempty" bson:"scope,omitempty"`
}

func (c ChannelConstraint) AppliesTo(instanceType string) bool {
	if len(c.Scope) == 0 {
		return true
	}
	for _, s := range c.Scope {
		if s == instanceType {
			return true
		}
	}
	return false
}

// ChannelClaim records an organization's claim on a publisher or series
// channel. At most one claim exists per channel, store-enforced.
type ChannelClaim struct {
	EntityBase  `bson:",inline"`
	ChannelId   string             `json:"channelId" bson:"channelId"`
	ChannelType string             `json:"channelType,omitempty" bson:"channelType,omitempty"`
	Status      ChannelClaimStatus `json:"claimStatus" bson:"claimStatus"`
	Constraint  ChannelConstraint  `json:"constraint" bson:"constraint"`
}

func (c *ChannelClaim) Category() Category { return CategoryChannels }
