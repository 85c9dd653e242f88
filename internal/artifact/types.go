package artifact

import (
	"errors"
	"time"
)

var (
	ErrNotInitialized       = errors.New("artifact store is not initialized")
	ErrDatasetNotLoaded     = errors.New("specification dataset is not loaded")
	ErrUnknownSpecification = errors.New("unknown specification")
	ErrMalformedResolution  = errors.New("resolution has no target nodes")
	ErrUnknownResolution    = errors.New("unknown resolution option")
)

// MaxDependencyDepth bounds recursive dependency filling.
const MaxDependencyDepth = 10

// ClearedNote is attached to form updates for fields with no validated selection.
const ClearedNote = "cleared: no validated selection"

// Attribution records how strongly a selection was asserted.
type Attribution string

const (
	AttributionRequirement Attribution = "requirement"
	AttributionAssumption  Attribution = "assumption"
)

// Source names who or what proposed a selection.
type Source string

const (
	SourceUser               Source = "user"
	SourceLLM                Source = "llm"
	SourceDependency         Source = "dependency"
	SourceSystem             Source = "system"
	SourceConflictResolution Source = "conflict_resolution"
)

// Partition identifies where an entry currently lives.
type Partition string

const (
	PartitionNone   Partition = ""
	PartitionMapped Partition = "mapped"
	PartitionRespec Partition = "respec"
)

// Entry is a selected specification held by the store.
// DependencyOf set implies Attribution == AttributionAssumption.
type Entry struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	FieldName        string      `json:"fieldName,omitempty"`
	Value            string      `json:"value"`
	Attribution      Attribution `json:"attribution"`
	Source           Source      `json:"source"`
	Confidence       float64     `json:"confidence"`
	OriginalRequest  string      `json:"originalRequest,omitempty"`
	SubstitutionNote string      `json:"substitutionNote,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	DependencyOf     string      `json:"dependencyOf,omitempty"`
}

// IsAssumption reports whether the entry was filled in automatically.
func (e Entry) IsAssumption() bool {
	return e.Attribution == AttributionAssumption
}

// ConflictType is the closed set of conflict classes.
type ConflictType string

const (
	ConflictFieldOverwrite  ConflictType = "field_overwrite"
	ConflictExclusion       ConflictType = "exclusion"
	ConflictCascade         ConflictType = "cascade"
	ConflictFieldConstraint ConflictType = "field_constraint"
)

// ResolutionAction is the closed set of resolution option kinds, one per
// conflict type.
type ResolutionAction string

const (
	ActionReplaceValue    ResolutionAction = "replace_value"
	ActionSelectOption    ResolutionAction = "select_option"
	ActionDropDependency  ResolutionAction = "drop_dependency"
	ActionRelaxConstraint ResolutionAction = "relax_constraint"
)

// ResolutionOption is one answer to a conflict question. TargetNodes are the
// ids that survive when the option is chosen.
type ResolutionOption struct {
	ID              string           `json:"id"`
	Description     string           `json:"description"`
	TargetNodes     []string         `json:"targetNodes"`
	Action          ResolutionAction `json:"action"`
	ExpectedOutcome string           `json:"expectedOutcome"`
}

// Conflict is an active or resolved inconsistency between selections.
type Conflict struct {
	ID            string             `json:"id"`
	Type          ConflictType       `json:"type"`
	AffectedNodes []string           `json:"affectedNodes"`
	Description   string             `json:"description"`
	Severity      string             `json:"severity,omitempty"`
	ExistingValue string             `json:"existingValue,omitempty"`
	ProposedValue string             `json:"proposedValue,omitempty"`
	Resolutions   []ResolutionOption `json:"resolutions"`
	CycleCount    int                `json:"cycleCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`

	ResolvedAt   time.Time `json:"resolvedAt,omitempty"`
	ResolutionID string    `json:"resolutionId,omitempty"`
	Stale        bool      `json:"stale,omitempty"`
}

// Priority is the store-wide processing priority.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityBlocking Priority = "blocking"
)

// PartitionMeta is kept per partition.
type PartitionMeta struct {
	TotalNodes   int       `json:"totalNodes"`
	LastModified time.Time `json:"lastModified"`
}

// ConflictMeta tracks the blocking state derived from active conflicts.
type ConflictMeta struct {
	SystemBlocked     bool      `json:"systemBlocked"`
	BlockingConflicts []string  `json:"blockingConflicts"`
	Priority          Priority  `json:"priority"`
	LastModified      time.Time `json:"lastModified"`
}

// Metadata is a snapshot of every partition's metadata.
type Metadata struct {
	Mapped    PartitionMeta `json:"mapped"`
	Respec    PartitionMeta `json:"respec"`
	Conflicts ConflictMeta  `json:"conflicts"`
}

// AddRequest proposes a specification for the mapped partition.
// Value defaults to the specification's own value; Confidence defaults to 1.
// A non-empty DependencyOf marks the call as a dependency fill: attribution
// is forced to assumption and no filling or conflict scan follows.
type AddRequest struct {
	SpecID           string
	Value            string
	OriginalRequest  string
	SubstitutionNote string
	Source           Source
	Confidence       float64
	DependencyOf     string
	Attribution      Attribution
	Scope            []string
}

// AddResult reports the side effects of AddSpecificationToMapped.
type AddResult struct {
	ID        string   `json:"id"`
	Filled    []string `json:"filled,omitempty"`
	Displaced []string `json:"displaced,omitempty"`
	Blocked   bool     `json:"blocked"`
}

// ResolveResult reports what a conflict resolution changed.
type ResolveResult struct {
	ConflictID string   `json:"conflictId"`
	Winners    []string `json:"winners,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Filled     []string `json:"filled,omitempty"`
	Stale      bool     `json:"stale,omitempty"`
	Blocked    bool     `json:"blocked"`
}

// FormUpdate is one field of the rendered form state.
type FormUpdate struct {
	Section          string  `json:"section"`
	Field            string  `json:"field"`
	Value            any     `json:"value"`
	Confidence       float64 `json:"confidence"`
	IsAssumption     bool    `json:"isAssumption"`
	OriginalRequest  string  `json:"originalRequest,omitempty"`
	SubstitutionNote string  `json:"substitutionNote,omitempty"`
	Cleared          bool    `json:"cleared,omitempty"`
}

// QuestionOption is one side of a binary conflict question.
type QuestionOption struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	ExpectedOutcome string `json:"expectedOutcome"`
}

// Question is an active conflict rendered for the user.
type Question struct {
	ConflictID string           `json:"conflictId"`
	Type       ConflictType     `json:"type"`
	Text       string           `json:"text"`
	Options    []QuestionOption `json:"options"`
}
