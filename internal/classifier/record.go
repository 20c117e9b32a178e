package classifier

import "time"

// ErrorRecord is the single recorded error for a server, overwritten per
// the policy in Overwritable as new lines are classified.
type ErrorRecord struct {
	Message    string
	Family     Family
	At         time.Time
	SourceLine string
}

// Tracker holds the one ErrorRecord a server is allowed at a time and
// enforces the overwrite policy. It is not safe for concurrent use; the
// supervisor is expected to serialize access on its single-writer actor.
type Tracker struct {
	current *ErrorRecord
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Current returns the active record, or nil if none has been recorded.
func (t *Tracker) Current() *ErrorRecord {
	return t.current
}

// Clear drops the current record, e.g. on a successful health probe.
func (t *Tracker) Clear() {
	t.current = nil
}

// Observe classifies one stderr/stdout line and, if it is not
// informational noise and extracts a message, updates the current record
// subject to the overwrite policy. Returns the record that is now active
// (which may be the unchanged previous record).
func (t *Tracker) Observe(line string, now time.Time) *ErrorRecord {
	if IsInformational(line) {
		return t.current
	}
	message := ExtractMessage(line)
	if message == "" {
		return t.current
	}

	family := Classify(message)
	if t.current != nil && !Overwritable(t.current.Family, family) {
		return t.current
	}

	t.current = &ErrorRecord{
		Message:    message,
		Family:     family,
		At:         now,
		SourceLine: line,
	}
	return t.current
}
