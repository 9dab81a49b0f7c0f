package editor

// Status is the save state surfaced to the editing layer.
type Status string

const (
	// StatusClean means the document matches the last persisted snapshot.
	StatusClean Status = "clean"
	// StatusDirty means unpersisted edits exist; the autosave timer is armed.
	StatusDirty Status = "dirty"
	// StatusSaving means a write is in flight.
	StatusSaving Status = "saving"
	// StatusSaved is clean immediately after a successful write.
	StatusSaved Status = "saved"
	// StatusError means the last write failed; edits are retained and the
	// next save attempt will retry them.
	StatusError Status = "error"
)

// Label is the human text for a status. The source product surfaced these in
// Portuguese; the engine reports stable statuses plus a default English
// label so any front end can localize.
func (s Status) Label() string {
	switch s {
	case StatusDirty:
		return "Unsaved changes"
	case StatusSaving:
		return "Saving…"
	case StatusSaved:
		return "Saved!"
	case StatusError:
		return "Save failed"
	default:
		return ""
	}
}

// SaveOutcome describes what a save request actually did.
type SaveOutcome string

const (
	// SaveSkipped: nothing changed since the snapshot; zero writes performed.
	SaveSkipped SaveOutcome = "skipped"
	// SaveWritten: the document was persisted.
	SaveWritten SaveOutcome = "written"
	// SaveQueued: a save was already in flight; this request was coalesced
	// into the follow-up save the in-flight one will run.
	SaveQueued SaveOutcome = "queued"
)
