package admission

// Outcome labels reported to an Observer.
const (
	OutcomeAdmitted = "admitted"
	OutcomeQueued   = "queued"
	OutcomePromoted = "promoted"

	ReasonEnded        = "ended"
	ReasonExpired      = "expired"
	ReasonWithdrawn    = "withdrawn"
	ReasonDisconnected = "disconnected"
	ReasonOrphaned     = "orphaned"
)

// Observer receives admission activity for instrumentation. Calls happen after
// the owning unit of work committed.
type Observer interface {
	ObserveAdmission(labID, outcome string)
	ObserveCompletion(labID, reason string)
	ObserveCancellation(labID, reason string)
	ObserveBindFailure(labID string)
	ObserveLaboratory(labID string, occupancy, queued int)
}

type nopObserver struct{}

func (nopObserver) ObserveAdmission(string, string)    {}
func (nopObserver) ObserveCompletion(string, string)   {}
func (nopObserver) ObserveCancellation(string, string) {}
func (nopObserver) ObserveBindFailure(string)          {}
func (nopObserver) ObserveLaboratory(string, int, int) {}
