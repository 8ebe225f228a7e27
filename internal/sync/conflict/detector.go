// Package conflict provides detection and resolution of divergence
// between local and remote versions of a synced entity.
package conflict

import (
	"reflect"
	"sort"
	"time"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/uuid"
)

// Detector compares a locally-held version of an entity against the
// remote authoritative version and classifies divergence.
type Detector struct {
	schemas *models.SchemaRegistry
}

// NewDetector creates a Detector over the given schema registry.
func NewDetector(schemas *models.SchemaRegistry) *Detector {
	return &Detector{schemas: schemas}
}

// Detect classifies the divergence between local and remote snapshots.
// Returns nil when no substantive difference exists, which is the
// common case and stays cheap: one pass over top-level fields.
//
// intent is the kind of the local operation being reconciled: a missing
// remote during a local update is a delete_conflict, while a missing
// remote during a local delete is agreement.
func (d *Detector) Detect(local, remote *models.Snapshot, intent models.OperationKind) (*models.ConflictRecord, error) {
	if local == nil {
		return nil, nil
	}

	schema, err := d.schemas.Lookup(local.Ref.Table)
	if err != nil {
		return nil, err
	}

	if remote == nil {
		// Only an update intent clashes with a remote deletion: a local
		// delete agrees with it and a local create has no remote
		// counterpart yet.
		if intent != models.OperationUpdate {
			return nil, nil
		}
		rec := d.newRecord(local, nil, models.ConflictDelete, nil, deletePriority(schema, local))
		logging.Warn("Delete conflict detected",
			map[string]interface{}{
				"entity":   local.Ref.Key(),
				"priority": string(rec.Priority),
			})
		return rec, nil
	}

	diff := diffFields(schema, local, remote)
	if len(diff) == 0 {
		return nil, nil
	}

	if len(diff) == 1 && diff[0] == schema.TimestampField {
		rec := d.newRecord(local, remote, models.ConflictTimestampMismatch,
			diff, models.PriorityLow)
		return rec, nil
	}

	// Substantive divergence: report conflicting fields without the
	// designated timestamp field, which always trails real edits.
	fields := make([]string, 0, len(diff))
	critical := false
	for _, f := range diff {
		if f == schema.TimestampField {
			continue
		}
		if schema.IsSecuritySensitive(f) {
			critical = true
		}
		fields = append(fields, f)
	}

	priority := dataPriority(len(fields))
	if critical {
		priority = models.PriorityCritical
	}

	rec := d.newRecord(local, remote, models.ConflictDataMismatch, fields, priority)
	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"entity":   local.Ref.Key(),
			"fields":   fields,
			"priority": string(priority),
		})
	return rec, nil
}

// newRecord builds a pending ConflictRecord with cloned snapshots so
// later local mutation cannot change what was detected.
func (d *Detector) newRecord(local, remote *models.Snapshot, kind models.ConflictType, fields []string, priority models.ConflictPriority) *models.ConflictRecord {
	ref := local.Ref
	return &models.ConflictRecord{
		ID:                uuid.New(),
		Ref:               ref,
		Type:              kind,
		Local:             local.Clone(),
		Remote:            remote.Clone(),
		ConflictingFields: fields,
		Priority:          priority,
		Status:            models.ConflictPending,
		DetectedAt:        time.Now().Unix(),
	}
}

// diffFields returns the sorted set of top-level fields whose values
// differ, skipping volatile bookkeeping fields.
func diffFields(schema models.EntitySchema, local, remote *models.Snapshot) []string {
	seen := make(map[string]bool, len(local.Fields)+len(remote.Fields))
	for f := range local.Fields {
		seen[f] = true
	}
	for f := range remote.Fields {
		seen[f] = true
	}

	var diff []string
	for f := range seen {
		if schema.IsVolatile(f) {
			continue
		}
		lv, lok := local.Field(f)
		rv, rok := remote.Field(f)
		if lok != rok || !valuesEqual(lv, rv) {
			diff = append(diff, f)
		}
	}

	sort.Strings(diff)
	return diff
}

// valuesEqual compares two field values, normalizing numeric types so a
// payload that round-tripped through JSON (float64) compares equal to
// one that did not (int).
func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// deletePriority escalates a delete conflict to critical when the local
// version carries security-sensitive values that deletion would discard.
func deletePriority(schema models.EntitySchema, local *models.Snapshot) models.ConflictPriority {
	for f := range local.Fields {
		if schema.IsSecuritySensitive(f) {
			return models.PriorityCritical
		}
	}
	return models.PriorityHigh
}

// dataPriority maps the breadth of a data mismatch to a priority.
func dataPriority(fieldCount int) models.ConflictPriority {
	if fieldCount >= 4 {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}
