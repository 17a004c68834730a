// Package store defines the three narrow store adapters the core depends on
// — relational (R), vector (V), and graph (G) — plus the domain types that
// flow through them.
package store

import (
	"math"
	"time"
)

type MemoryStatus string

const (
	MemoryPending        MemoryStatus = "pending"
	MemoryCommitted      MemoryStatus = "committed"
	MemoryDeprecated     MemoryStatus = "deprecated"
	MemoryDeleted        MemoryStatus = "deleted"
	MemoryPendingReview  MemoryStatus = "pending_review"
)

type OutboxStatus string

const (
	OutboxPending        OutboxStatus = "pending"
	OutboxProcessing     OutboxStatus = "processing"
	OutboxDone           OutboxStatus = "done"
	OutboxFailed         OutboxStatus = "failed"
	OutboxDLQ            OutboxStatus = "dlq"
	OutboxPendingReview  OutboxStatus = "pending_review"
)

type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

type ConflictResolution string

const (
	ConflictUnresolved        ConflictResolution = "unresolved"
	ConflictSupersededByNewer ConflictResolution = "superseded_by_newer"
	ConflictUserClarified     ConflictResolution = "user_clarified"
)

// Session is a logical conversation.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Turn is one message. Immutable after insertion.
type Turn struct {
	ID         string
	SessionID  string
	UserID     string
	Role       TurnRole
	Content    string
	CreatedAt  time.Time
	EmotionTag string
}

// Memory is a durable fact candidate distilled from one or more turns.
type Memory struct {
	ID             string
	UserID         string
	Content        string
	Embedding      []float32
	Valence        float64
	Status         MemoryStatus
	ConversationID string
	CreatedAt      time.Time
	CommittedAt    *time.Time
	Metadata       map[string]any
}

// OutboxEvent is a durable work item for the asynchronous fan-out from a
// Memory into the vector and graph stores.
type OutboxEvent struct {
	ID                 string
	EventID             string // e.g. "memory_created:<memory_id>"
	MemoryID            string
	Payload             map[string]any
	Status              OutboxStatus
	RetryCount          int
	IdempotencyKey      string
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	VectorWrittenAt     *time.Time
	GraphWrittenAt      *time.Time
	ProcessedAt         *time.Time
	ErrorMessage        string
}

// IdempotencyKey maps a user-supplied token to a cached Turn/Reply.
type IdempotencyKey struct {
	Key       string
	UserID    string
	TurnID    string
	Reply     []byte // serialized Reply, returned byte-identical on replay
	CreatedAt time.Time
	ExpiresAt time.Time
}

type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityLocation     EntityType = "Location"
	EntityOrganization EntityType = "Organization"
	EntityEvent        EntityType = "Event"
	EntityPreference   EntityType = "Preference"
	EntityTimeExpr     EntityType = "TimeExpression"
	EntityDuration     EntityType = "Duration"
	EntityQuantity     EntityType = "Quantity"
	EntityOther        EntityType = "Other"
)

// UserEntityID is the distinguished id of the user-as-entity node.
const UserEntityID = "user"

// Entity is a node in the graph store, scoped by user.
type Entity struct {
	ID               string
	Name             string
	Type             EntityType
	UserID           string
	MentionCount     int
	FirstMentionedAt time.Time
	LastMentionedAt  time.Time
	Attributes       map[string]any // type-specific fields: seconds, value+unit, start/end/precision, ...
}

// RelationType is a member of the closed relation vocabulary.
type RelationType string

const (
	RelFamily       RelationType = "FAMILY"
	RelParentOf     RelationType = "PARENT_OF"
	RelChildOf      RelationType = "CHILD_OF"
	RelSiblingOf    RelationType = "SIBLING_OF"
	RelCousinOf     RelationType = "COUSIN_OF"
	RelFriendOf     RelationType = "FRIEND_OF"
	RelColleagueOf  RelationType = "COLLEAGUE_OF"
	RelClassmateOf  RelationType = "CLASSMATE_OF"
	RelFrom         RelationType = "FROM"
	RelLivesIn      RelationType = "LIVES_IN"
	RelWorksAt      RelationType = "WORKS_AT"
	RelLikes        RelationType = "LIKES"
	RelDislikes     RelationType = "DISLIKES"
	RelHappenedAt   RelationType = "HAPPENED_AT"
	RelHappenedBetween RelationType = "HAPPENED_BETWEEN"
	RelLasted       RelationType = "LASTED"
	RelCost         RelationType = "COST"
	RelIs           RelationType = "IS"
	RelResearched   RelationType = "RESEARCHED"
	RelShares       RelationType = "SHARES"
	RelPlansTo      RelationType = "PLANS_TO"
	RelRelatedTo    RelationType = "RELATED_TO"
)

// AllowedRelationTypes is the closed vocabulary from §3.
var AllowedRelationTypes = map[RelationType]bool{
	RelFamily: true, RelParentOf: true, RelChildOf: true, RelSiblingOf: true,
	RelCousinOf: true, RelFriendOf: true, RelColleagueOf: true, RelClassmateOf: true,
	RelFrom: true, RelLivesIn: true, RelWorksAt: true, RelLikes: true, RelDislikes: true,
	RelHappenedAt: true, RelHappenedBetween: true, RelLasted: true, RelCost: true,
	RelIs: true, RelResearched: true, RelShares: true, RelPlansTo: true, RelRelatedTo: true,
}

// AllowedEntityTypes is the closed vocabulary from §3.
var AllowedEntityTypes = map[EntityType]bool{
	EntityPerson: true, EntityLocation: true, EntityOrganization: true, EntityEvent: true,
	EntityPreference: true, EntityTimeExpr: true, EntityDuration: true, EntityQuantity: true,
	EntityOther: true,
}

const DefaultDecayRate = 0.03
const MinEdgeFloor = 0.01

// Relation is a directed, typed, weighted edge in G.
type Relation struct {
	UserID     string
	SourceID   string
	TargetID   string
	Type       RelationType
	Weight     float64
	DecayRate  float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Provenance []string // conversation/turn ids
	Confidence float64
}

// EffectiveWeight applies exponential time decay read-only, never mutating
// the stored weight.
func (r Relation) EffectiveWeight(at time.Time) float64 {
	days := at.Sub(r.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := r.DecayRate
	if decay <= 0 {
		decay = DefaultDecayRate
	}
	w := r.Weight * math.Exp(-decay*days)
	if w < MinEdgeFloor {
		return MinEdgeFloor
	}
	return w
}

// AffinityRow is one row of the affinity_history time series.
type AffinityRow struct {
	UserID    string
	Score     float64
	Delta     float64
	CreatedAt time.Time
}

// ConflictRecord links two memories detected to be in opposition.
type ConflictRecord struct {
	ID               string
	UserID           string
	MemoryOldID      string
	MemoryNewID      string
	Topic            string
	Evidence         string
	DetectedAt       time.Time
	Resolution       ConflictResolution
	DeprecatingMemID string
}

// Fact is a graph-derived fact surfaced to retrieval without an attached Memory.
type Fact struct {
	Entity          string
	Relation        RelationType
	Target          string
	Hop             int
	EffectiveWeight float64
}
