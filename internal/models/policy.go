// Package models provides data model definitions for the sync core.
package models

// PolicyMode selects the automatic conflict resolution strategy.
type PolicyMode string

const (
	PolicyManual     PolicyMode = "manual"
	PolicyLatestWins PolicyMode = "latest_wins"
	PolicyLocalWins  PolicyMode = "local_wins"
	PolicyRemoteWins PolicyMode = "remote_wins"
)

// Valid reports whether the mode is a known strategy.
func (m PolicyMode) Valid() bool {
	switch m {
	case PolicyManual, PolicyLatestWins, PolicyLocalWins, PolicyRemoteWins:
		return true
	}
	return false
}

// ResolutionPolicy governs automatic resolution for one entity table.
// A critical-priority conflict suppresses the automatic mode and is
// forced to manual regardless of what is configured here.
type ResolutionPolicy struct {
	Mode PolicyMode `json:"mode" yaml:"mode"`
}

// ManualChoice is an explicit user decision for one conflict.
type ManualChoice string

const (
	ChoiceKeepLocal  ManualChoice = "keep_local"
	ChoiceKeepRemote ManualChoice = "keep_remote"
	ChoiceMerge      ManualChoice = "merge"

	// Delete conflicts use their own vocabulary: restore re-creates the
	// entity from the local version, accept_deletion drops it.
	ChoiceRestore        ManualChoice = "restore"
	ChoiceAcceptDeletion ManualChoice = "accept_deletion"
)

// Valid reports whether the choice is one of the known decisions.
func (c ManualChoice) Valid() bool {
	switch c {
	case ChoiceKeepLocal, ChoiceKeepRemote, ChoiceMerge, ChoiceRestore, ChoiceAcceptDeletion:
		return true
	}
	return false
}
