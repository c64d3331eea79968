package integration

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// MaxAnomalySamples bounds how many row-level anomalies a summary keeps
const MaxAnomalySamples = 50

// Anomaly codes
const (
	AnomalyMissingExternalID    = "skipped_missing_external_id"
	AnomalyDuplicatedExternalID = "duplicated_external_id_in_batch"
	AnomalyExternalIDConflict   = "skipped_external_id_conflicts"
	AnomalyMissingRequiredField = "missing_required_field"
	AnomalyUnresolvedRelation   = "unresolved_relation"
	AnomalyConflictUnresolved   = "conflicts_unresolved"
	AnomalyInvalidValue         = "invalid_value"
)

// Anomaly is a sampled row-level problem. Anomalies never abort a run.
type Anomaly struct {
	Code       string `json:"code"`
	ExternalID string `json:"external_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

// SyncSummary holds the counters of one entity kind in one run
type SyncSummary struct {
	Kind EntityKind `json:"kind"`
	// RowsFetched counts source rows read
	RowsFetched int `json:"rows_fetched"`
	// EstimatedTotal is the source count at start, -1 when unknown
	EstimatedTotal int64 `json:"estimated_total"`
	Batches        int   `json:"batches"`

	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`

	SkippedMissingExternalID    int `json:"skipped_missing_external_id"`
	DuplicatedExternalIDInBatch int `json:"duplicated_external_id_in_batch"`
	SkippedExternalIDConflicts  int `json:"skipped_external_id_conflicts"`
	// SkippedMissingRequired counts new entities not created because a
	// required field did not resolve
	SkippedMissingRequired int `json:"skipped_missing_required"`
	ConflictsRecovered     int `json:"conflicts_recovered"`
	ConflictsUnresolved    int `json:"conflicts_unresolved"`

	MissingRequiredField map[string]int `json:"missing_required_field,omitempty"`
	UnresolvedRelations  map[string]int `json:"unresolved_relations,omitempty"`
	InvalidValues        map[string]int `json:"invalid_values,omitempty"`

	ItemsUpserted int `json:"items_upserted"`
	ItemsDeleted  int `json:"items_deleted"`

	WatermarkFrom *time.Time `json:"watermark_from,omitempty"`
	WatermarkTo   *time.Time `json:"watermark_to,omitempty"`
	Checkpoints   int        `json:"checkpoints"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	Anomalies []Anomaly `json:"anomalies,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewSyncSummary creates an empty summary for kind
func NewSyncSummary(kind EntityKind) *SyncSummary {
	return &SyncSummary{
		Kind:                 kind,
		EstimatedTotal:       -1,
		MissingRequiredField: map[string]int{},
		UnresolvedRelations:  map[string]int{},
		InvalidValues:        map[string]int{},
		StartedAt:            time.Now(),
	}
}

// Upserted returns the number of entities written
func (s *SyncSummary) Upserted() int {
	return s.Created + s.Updated
}

// Skipped returns the number of units not written because of row-level problems
func (s *SyncSummary) Skipped() int {
	return s.SkippedMissingExternalID + s.DuplicatedExternalIDInBatch +
		s.SkippedExternalIDConflicts + s.SkippedMissingRequired + s.ConflictsUnresolved
}

// Conflicts returns key conflicts met, recovered or not
func (s *SyncSummary) Conflicts() int {
	return s.SkippedExternalIDConflicts + s.ConflictsRecovered + s.ConflictsUnresolved
}

// Record samples an anomaly, keeping at most MaxAnomalySamples
func (s *SyncSummary) Record(a Anomaly) {
	if len(s.Anomalies) < MaxAnomalySamples {
		s.Anomalies = append(s.Anomalies, a)
	}
}

// Finish stamps the end of the run
func (s *SyncSummary) Finish(err error) {
	s.FinishedAt = time.Now()
	s.Duration = s.FinishedAt.Sub(s.StartedAt)
	if err != nil {
		s.Error = err.Error()
	}
}

// RunSummary aggregates the kinds synchronized in one invocation
type RunSummary struct {
	TenantID        uuid.UUID      `json:"tenant_id"`
	ForceFullResync bool           `json:"force_full_resync"`
	Kinds           []*SyncSummary `json:"kinds"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"duration"`
}

// Add appends a kind summary
func (r *RunSummary) Add(s *SyncSummary) {
	r.Kinds = append(r.Kinds, s)
}

// Upserted sums entities written across kinds
func (r *RunSummary) Upserted() int {
	n := 0
	for _, s := range r.Kinds {
		n += s.Upserted()
	}
	return n
}

// Skipped sums skipped units across kinds
func (r *RunSummary) Skipped() int {
	n := 0
	for _, s := range r.Kinds {
		n += s.Skipped()
	}
	return n
}

// Conflicts sums conflicts across kinds
func (r *RunSummary) Conflicts() int {
	n := 0
	for _, s := range r.Kinds {
		n += s.Conflicts()
	}
	return n
}

// Kind returns the summary of kind, or nil
func (r *RunSummary) Kind(kind EntityKind) *SyncSummary {
	for _, s := range r.Kinds {
		if s.Kind == kind {
			return s
		}
	}
	return nil
}

// SortedCounts returns the keys of a counter map in order, for stable output
func SortedCounts(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
