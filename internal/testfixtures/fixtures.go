package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/lab-scheduler/internal/catalog"
	"github.com/example/lab-scheduler/internal/session"
)

var (
	laboratoryCounter uint64
	sessionCounter    uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// --------------------------- Laboratory fixtures ---------------------------

// LaboratoryFixture represents a deterministic catalog entry.
type LaboratoryFixture struct {
	ID       string
	Name     string
	Capacity int
	Duration time.Duration
	Hardware []catalog.Hardware
}

// LaboratoryOption configures the generated laboratory fixture.
type LaboratoryOption func(*LaboratoryFixture)

// NewLaboratoryFixture returns a one-slot, thirty-minute laboratory with
// hardware for every slot, plus optional overrides.
func NewLaboratoryFixture(opts ...LaboratoryOption) LaboratoryFixture {
	idx := atomic.AddUint64(&laboratoryCounter, 1)
	id := fmt.Sprintf("lab-%03d", idx)
	fixture := LaboratoryFixture{
		ID:       id,
		Name:     fmt.Sprintf("Laboratory %03d", idx),
		Capacity: 1,
		Duration: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	if len(fixture.Hardware) == 0 {
		fixture.Hardware = hardwareFor(fixture.ID, fixture.Capacity)
	}
	return fixture
}

// WithLaboratoryID overrides the laboratory identifier.
func WithLaboratoryID(id string) LaboratoryOption {
	return func(f *LaboratoryFixture) {
		f.ID = id
		f.Name = id
	}
}

// WithCapacity overrides the concurrent session limit.
func WithCapacity(capacity int) LaboratoryOption {
	return func(f *LaboratoryFixture) {
		f.Capacity = capacity
	}
}

// WithDuration overrides the session duration.
func WithDuration(d time.Duration) LaboratoryOption {
	return func(f *LaboratoryFixture) {
		f.Duration = d
	}
}

// WithHardware overrides the hardware list.
func WithHardware(hardware ...catalog.Hardware) LaboratoryOption {
	return func(f *LaboratoryFixture) {
		f.Hardware = append([]catalog.Hardware(nil), hardware...)
	}
}

// Catalog converts the fixture into its catalog representation.
func (f LaboratoryFixture) Catalog() catalog.Laboratory {
	return catalog.Laboratory{
		ID:       f.ID,
		Name:     f.Name,
		Capacity: f.Capacity,
		Duration: f.Duration,
		Hardware: append([]catalog.Hardware(nil), f.Hardware...),
	}
}

// NewCatalog builds a static catalog from fixtures and panics on invalid input,
// which only happens when a test builds a broken fixture.
func NewCatalog(fixtures ...LaboratoryFixture) *catalog.Static {
	labs := make([]catalog.Laboratory, len(fixtures))
	for i, f := range fixtures {
		labs[i] = f.Catalog()
	}
	static, err := catalog.NewStatic(labs...)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: invalid catalog: %v", err))
	}
	return static
}

func hardwareFor(labID string, capacity int) []catalog.Hardware {
	if capacity < 1 {
		capacity = 1
	}
	hardware := make([]catalog.Hardware, capacity)
	for i := range hardware {
		hardware[i] = catalog.Hardware{
			ID:      fmt.Sprintf("%s-hw-%d", labID, i+1),
			Address: fmt.Sprintf("10.0.0.%d", i+10),
		}
	}
	return hardware
}

// ----------------------------- Session fixtures -----------------------------

// SessionFixture represents a deterministic ledger record.
type SessionFixture struct {
	ID              string
	LaboratoryID    string
	HardwareID      string
	HardwareAddress string
	OwnerID         string
	Start           time.Time
	Duration        time.Duration
	State           session.State
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns an InProgress session starting at ReferenceTime.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:              fmt.Sprintf("session-%03d", idx),
		LaboratoryID:    "lab-001",
		HardwareID:      "hw-1",
		HardwareAddress: "10.0.0.10",
		OwnerID:         fmt.Sprintf("user-%03d", idx),
		Start:           referenceTime,
		Duration:        30 * time.Minute,
		State:           session.InProgress,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the session identifier.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionLaboratory overrides the owning laboratory.
func WithSessionLaboratory(labID string) SessionOption {
	return func(f *SessionFixture) {
		f.LaboratoryID = labID
	}
}

// WithSessionOwner overrides the owner.
func WithSessionOwner(ownerID string) SessionOption {
	return func(f *SessionFixture) {
		f.OwnerID = ownerID
	}
}

// WithSessionWindow overrides the start and duration.
func WithSessionWindow(start time.Time, d time.Duration) SessionOption {
	return func(f *SessionFixture) {
		f.Start = start
		f.Duration = d
	}
}

// WithSessionState overrides the lifecycle state.
func WithSessionState(state session.State) SessionOption {
	return func(f *SessionFixture) {
		f.State = state
	}
}

// Session materialises the fixture. Completed fixtures end at their scheduled end.
func (f SessionFixture) Session() session.Session {
	s := session.Schedule(session.Params{
		ID:              f.ID,
		LaboratoryID:    f.LaboratoryID,
		HardwareID:      f.HardwareID,
		HardwareAddress: f.HardwareAddress,
		OwnerID:         f.OwnerID,
	}, f.Start, f.Duration)
	if f.State >= session.InProgress {
		_ = s.Start(f.Start)
	}
	if f.State == session.Completed {
		_ = s.Complete(s.EndTime)
	}
	return s
}
