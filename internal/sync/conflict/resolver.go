// Package conflict provides detection and resolution of divergence
// between local and remote versions of a synced entity.
package conflict

import (
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// Resolved is the accepted version produced by resolving a conflict.
// The orchestrator persists it both locally and remotely.
type Resolved struct {
	Ref        models.EntityRef
	Fields     map[string]interface{} // nil when Deleted
	Deleted    bool
	Resolution string
}

// Resolver applies a resolution policy or an explicit user choice to a
// pending conflict.
type Resolver struct {
	schemas *models.SchemaRegistry
}

// NewResolver creates a Resolver over the given schema registry.
func NewResolver(schemas *models.SchemaRegistry) *Resolver {
	return &Resolver{schemas: schemas}
}

// Resolve produces the accepted version for a pending conflict.
//
// Rules, in order:
//  1. critical priority requires an explicit choice; without one the
//     conflict stays pending and CONFLICT_MANUAL_REQUIRED is returned
//  2. an explicit choice wins over any configured policy
//  3. otherwise the policy's automatic strategy applies
//  4. delete conflicts are never auto-resolved: the choice is restore
//     or accept_deletion
//
// On success the record transitions pending -> resolved exactly once.
// On failure the record and both snapshots are left untouched, so the
// caller can distinguish "blocked pending input" from "applied".
func (r *Resolver) Resolve(rec *models.ConflictRecord, policy models.ResolutionPolicy, choice models.ManualChoice, mergeData map[string]interface{}) (*Resolved, error) {
	if !rec.Pending() {
		return nil, apperrors.Newf(apperrors.ErrConflictClosed,
			"conflict %s already %s", rec.ID, rec.Status)
	}

	if choice != "" && !choice.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown manual choice %q", choice)
	}

	result, err := r.produce(rec, policy, choice, mergeData)
	if err != nil {
		return nil, err
	}

	rec.Status = models.ConflictResolved
	rec.ClosedAt = time.Now().Unix()
	rec.Resolution = result.Resolution

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"conflict_id": rec.ID,
			"entity":      rec.Ref.Key(),
			"resolution":  result.Resolution,
		})

	return result, nil
}

// produce computes the accepted version without mutating the record.
func (r *Resolver) produce(rec *models.ConflictRecord, policy models.ResolutionPolicy, choice models.ManualChoice, mergeData map[string]interface{}) (*Resolved, error) {
	if rec.Type == models.ConflictDelete {
		return r.resolveDelete(rec, choice)
	}

	if rec.Priority == models.PriorityCritical && choice == "" {
		return nil, apperrors.Newf(apperrors.ErrConflictManualRequired,
			"critical conflict %s requires an explicit choice", rec.ID)
	}

	if choice != "" {
		return r.resolveManual(rec, choice, mergeData)
	}

	switch policy.Mode {
	case models.PolicyLatestWins:
		return r.resolveLatestWins(rec)
	case models.PolicyLocalWins:
		return r.takeSide(rec, rec.Local, string(models.PolicyLocalWins)), nil
	case models.PolicyRemoteWins:
		return r.takeSide(rec, rec.Remote, string(models.PolicyRemoteWins)), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrConflictManualRequired,
			"conflict %s requires manual resolution under policy %q", rec.ID, policy.Mode)
	}
}

// resolveDelete handles delete conflicts: restore re-creates the entity
// from the local version, accept_deletion drops it.
func (r *Resolver) resolveDelete(rec *models.ConflictRecord, choice models.ManualChoice) (*Resolved, error) {
	switch choice {
	case models.ChoiceRestore:
		return &Resolved{
			Ref:        rec.Ref,
			Fields:     rec.Local.Clone().Fields,
			Resolution: string(models.ChoiceRestore),
		}, nil
	case models.ChoiceAcceptDeletion:
		return &Resolved{
			Ref:        rec.Ref,
			Deleted:    true,
			Resolution: string(models.ChoiceAcceptDeletion),
		}, nil
	case "":
		return nil, apperrors.Newf(apperrors.ErrConflictManualRequired,
			"delete conflict %s requires restore or accept_deletion", rec.ID)
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid,
			"choice %q does not apply to a delete conflict", choice)
	}
}

// resolveManual applies an explicit keep_local / keep_remote / merge
// decision. The remote snapshot is the baseline; only the conflicting
// fields are overridden.
func (r *Resolver) resolveManual(rec *models.ConflictRecord, choice models.ManualChoice, mergeData map[string]interface{}) (*Resolved, error) {
	switch choice {
	case models.ChoiceKeepLocal:
		return r.takeSide(rec, rec.Local, string(models.ChoiceKeepLocal)), nil
	case models.ChoiceKeepRemote:
		return r.takeSide(rec, rec.Remote, string(models.ChoiceKeepRemote)), nil
	case models.ChoiceMerge:
		if mergeData == nil {
			return nil, apperrors.Newf(apperrors.ErrInvalid,
				"merge resolution for conflict %s requires merge data", rec.ID)
		}
		fields := rec.Remote.Clone().Fields
		for _, f := range rec.ConflictingFields {
			if v, ok := mergeData[f]; ok {
				fields[f] = v
			}
		}
		return &Resolved{Ref: rec.Ref, Fields: fields, Resolution: string(models.ChoiceMerge)}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid,
			"choice %q does not apply to a %s conflict", choice, rec.Type)
	}
}

// resolveLatestWins takes the side with the newer per-entity modification
// timestamp for the conflicting fields. The local side wins ties, same
// as a device retrying its own write.
func (r *Resolver) resolveLatestWins(rec *models.ConflictRecord) (*Resolved, error) {
	schema, err := r.schemas.Lookup(rec.Ref.Table)
	if err != nil {
		return nil, err
	}

	side := rec.Remote
	if rec.Local.ModifiedAt(schema.TimestampField) >= rec.Remote.ModifiedAt(schema.TimestampField) {
		side = rec.Local
	}
	return r.takeSide(rec, side, string(models.PolicyLatestWins)), nil
}

// takeSide builds the accepted version from the remote baseline with the
// conflicting fields taken from the winning side. Fields outside the
// conflict set always come from the remote baseline, so resolution never
// resurrects stale local values that were not in dispute.
func (r *Resolver) takeSide(rec *models.ConflictRecord, winner *models.Snapshot, resolution string) *Resolved {
	fields := rec.Remote.Clone().Fields
	if fields == nil {
		fields = make(map[string]interface{})
	}
	for _, f := range rec.ConflictingFields {
		if v, ok := winner.Field(f); ok {
			fields[f] = v
		} else {
			delete(fields, f)
		}
	}
	return &Resolved{Ref: rec.Ref, Fields: fields, Resolution: resolution}
}
