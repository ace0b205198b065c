// Package admission decides who gets a laboratory slot and who waits, and keeps
// every affected client informed through its notification channel.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/example/lab-scheduler/internal/catalog"
	"github.com/example/lab-scheduler/internal/notify"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/queue"
	"github.com/example/lab-scheduler/internal/session"
)

// DefaultNotifyInterval is how often admitted clients are told their remaining time.
const DefaultNotifyInterval = 30 * time.Second

const disconnectTimeout = 10 * time.Second

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	// Binder picks hardware for new sessions. Defaults to round robin over the catalog.
	Binder         catalog.HardwareBinder
	IDGenerator    func() string
	Now            func() time.Time
	NotifyInterval time.Duration
	Observer       Observer
	Logger         *slog.Logger
}

// Outcome is the result of an admission request: either an admitted session or
// a queue position.
type Outcome struct {
	Admitted *session.Session
	Position int
}

// Queued reports whether the request ended up in the waiting queue.
func (o Outcome) Queued() bool {
	return o.Admitted == nil
}

// Coordinator is the only writer of waiting entries and sessions. Every decision
// for a laboratory runs inside one unit of work for that laboratory; channel
// and router updates are deferred until the unit commits.
type Coordinator struct {
	store          persistence.Store
	catalog        catalog.Catalog
	binder         catalog.HardwareBinder
	router         *Router
	queue          *WaitingQueue
	newID          func() string
	now            func() time.Time
	notifyInterval time.Duration
	observer       Observer
	logger         *slog.Logger
}

// NewCoordinator wires a coordinator over store and labs.
func NewCoordinator(store persistence.Store, labs catalog.Catalog, opts Options) *Coordinator {
	if opts.Binder == nil {
		opts.Binder = catalog.NewRoundRobinBinder(labs)
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = DefaultNotifyInterval
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	logger := defaultLogger(opts.Logger)

	c := &Coordinator{
		store:          store,
		catalog:        labs,
		binder:         opts.Binder,
		router:         NewRouter(logger),
		queue:          NewWaitingQueue(store, opts.Now),
		newID:          opts.IDGenerator,
		now:            opts.Now,
		notifyInterval: opts.NotifyInterval,
		observer:       opts.Observer,
		logger:         logger,
	}
	c.router.OnDisconnect(c.disconnected)
	return c
}

// Router exposes the channel bindings.
func (c *Coordinator) Router() *Router {
	return c.router
}

// Queue exposes read-only and single-step queue operations.
func (c *Coordinator) Queue() *WaitingQueue {
	return c.queue
}

func (c *Coordinator) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "Coordinator", operation, attrs...)
}

// Subscribe requests admission on behalf of the client behind ch. A rejected
// request completes ch.
func (c *Coordinator) Subscribe(ctx context.Context, labID, userID string, ch notify.Channel) (Outcome, error) {
	outcome, err := c.RequestAdmission(ctx, labID, userID, ch)
	if err != nil && ch != nil {
		ch.Complete()
	}
	return outcome, err
}

// RequestAdmission admits userID right away when labID has a free slot and
// nobody is waiting, and queues the user otherwise.
func (c *Coordinator) RequestAdmission(ctx context.Context, labID, userID string, ch notify.Channel) (outcome Outcome, err error) {
	if labID == "" || userID == "" || ch == nil {
		return Outcome{}, ErrInvalidRequest
	}

	logger := c.loggerWith(ctx, "RequestAdmission",
		"laboratory_id", labID,
		"user_id", userID,
		"channel_id", ch.ID(),
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "admission request failed", err)
			return
		}
		if outcome.Admitted != nil {
			logger.InfoContext(ctx, "admitted", "session_id", outcome.Admitted.ID, "hardware_id", outcome.Admitted.HardwareID)
			return
		}
		logger.InfoContext(ctx, "queued", "position", outcome.Position)
	}()

	var lab catalog.Laboratory
	lab, err = c.laboratory(ctx, labID)
	if err != nil {
		return Outcome{}, err
	}

	err = c.store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		outcome = Outcome{}
		now := c.now()

		occupancy, err := tx.CountInProgress(ctx)
		if err != nil {
			return err
		}
		entries, err := tx.Entries(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.UserID == userID {
				return ErrAlreadyQueued
			}
		}

		// Jumping a non-empty queue would break arrival order, so a free slot is
		// only taken directly when nobody waits.
		if occupancy < lab.Capacity && len(entries) == 0 {
			s, err := c.startSession(ctx, tx, lab, userID, now)
			switch {
			case err == nil:
				outcome.Admitted = &s
				starting := c.starting(s)
				text := admittedText(lab, s, now)
				tx.AfterCommit(func() {
					c.router.BindSession(s, ch, starting)
					c.router.EmitSession(s.ID, notify.Message{Text: text})
					c.observer.ObserveAdmission(labID, OutcomeAdmitted)
				})
				return c.observeLaboratory(ctx, tx)
			case errors.Is(err, ErrHardwareUnavailable):
				logger.WarnContext(ctx, "no hardware for immediate admission, queueing instead", "error", err)
				tx.AfterCommit(func() { c.observer.ObserveBindFailure(labID) })
			default:
				return err
			}
		}

		if _, err := tx.Enqueue(ctx, userID, now); err != nil {
			return mapQueueError(err)
		}
		position, err := tx.Position(ctx, userID)
		if err != nil {
			return err
		}
		outcome.Position = position
		text := queuedText(lab, position)
		tx.AfterCommit(func() {
			c.router.BindWaiting(labID, userID, ch, position)
			c.router.EmitWaiting(labID, userID, notify.Message{Text: text})
			c.observer.ObserveAdmission(labID, OutcomeQueued)
		})
		return c.observeLaboratory(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidStateTransition) {
			ch.Emit(notify.Error{Code: http.StatusInternalServerError, Message: "admission failed unexpectedly"})
		}
		return Outcome{}, err
	}
	return outcome, nil
}

// Complete ends an InProgress session and hands freed capacity to the head of
// the queue. Completing a session twice fails with session.ErrInvalidStateTransition.
func (c *Coordinator) Complete(ctx context.Context, sessionID string) (session.Session, error) {
	existing, err := c.lookupSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	ended, _, err := c.complete(ctx, existing.LaboratoryID, sessionID, ReasonEnded, false)
	return ended, err
}

// EndSession completes sessionID on behalf of its owner. Sessions owned by
// someone else are reported as not found.
func (c *Coordinator) EndSession(ctx context.Context, sessionID, ownerID string) (session.Session, error) {
	existing, err := c.lookupSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if existing.OwnerID != ownerID {
		return session.Session{}, ErrSessionNotFound
	}
	ended, _, err := c.complete(ctx, existing.LaboratoryID, sessionID, ReasonEnded, false)
	return ended, err
}

// Session returns a session without taking the laboratory lock.
func (c *Coordinator) Session(ctx context.Context, sessionID string) (session.Session, error) {
	return c.lookupSession(ctx, sessionID)
}

// complete runs the completion hook for one session. With skipCompleted a
// session that is already Completed is left alone and done is false.
func (c *Coordinator) complete(ctx context.Context, labID, sessionID, reason string, skipCompleted bool) (ended session.Session, done bool, err error) {
	logger := c.loggerWith(ctx, "Complete",
		"laboratory_id", labID,
		"session_id", sessionID,
		"reason", reason,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "session completion failed", err)
			return
		}
		if done {
			logger.InfoContext(ctx, "session completed", "owner_id", ended.OwnerID)
		}
	}()

	lab, err := c.laboratory(ctx, labID)
	if errors.Is(err, ErrLaboratoryNotFound) {
		// A laboratory dropped from the catalog still lets its sessions end, it
		// just has no capacity left to hand out.
		lab = catalog.Laboratory{ID: labID, Name: labID}
	} else if err != nil {
		return session.Session{}, false, err
	}

	err = c.store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		ended, done = session.Session{}, false

		s, err := tx.GetSession(ctx, sessionID)
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if skipCompleted && s.State == session.Completed {
			return nil
		}
		if err := s.Complete(c.now()); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}
		ended, done = s, true

		text := endedText(reason)
		tx.AfterCommit(func() {
			c.router.EndSession(s.ID, text)
			c.observer.ObserveCompletion(labID, reason)
		})

		if _, err := c.promote(ctx, tx, lab, logger); err != nil {
			return err
		}
		return c.observeLaboratory(ctx, tx)
	})
	if err != nil {
		return session.Session{}, false, err
	}
	return ended, done, nil
}

// promote fills free capacity from the head of the queue. Entries whose session
// cannot be created are set aside and put back at their original place once
// the loop is done, so nobody is lost or reordered.
func (c *Coordinator) promote(ctx context.Context, tx persistence.LabTx, lab catalog.Laboratory, logger *slog.Logger) (int, error) {
	occupancy, err := tx.CountInProgress(ctx)
	if err != nil {
		return 0, err
	}

	var (
		promoted int
		dropped  int
		setAside []queue.Entry
		now      = c.now()
	)
	for occupancy < lab.Capacity {
		entry, err := tx.Pop(ctx)
		if errors.Is(err, persistence.ErrNotFound) {
			break
		}
		if err != nil {
			return 0, err
		}

		// A dead channel is unbound before its withdrawal runs; the entry leaves here instead.
		if _, ok := c.router.WaitingChannel(lab.ID, entry.UserID); !ok {
			logger.InfoContext(ctx, "skipped waiting user with no open channel", "user_id", entry.UserID)
			dropped++
			tx.AfterCommit(func() { c.observer.ObserveCancellation(lab.ID, ReasonDisconnected) })
			continue
		}

		s, err := c.startSession(ctx, tx, lab, entry.UserID, now)
		switch {
		case errors.Is(err, ErrHardwareUnavailable):
			logger.WarnContext(ctx, "hardware binding failed, entry keeps its place", "user_id", entry.UserID, "error", err)
			setAside = append(setAside, entry)
			tx.AfterCommit(func() { c.observer.ObserveBindFailure(lab.ID) })
			continue
		case errors.Is(err, session.ErrInvalidStateTransition):
			logger.ErrorContext(ctx, "promotion produced an invalid session", "user_id", entry.UserID, "error", err, "error_kind", ErrorKind(err))
			setAside = append(setAside, entry)
			userID := entry.UserID
			tx.AfterCommit(func() {
				c.router.EmitWaiting(lab.ID, userID, notify.Error{Code: http.StatusInternalServerError, Message: "promotion failed unexpectedly"})
			})
			continue
		case err != nil:
			return 0, err
		}

		occupancy++
		promoted++
		userID := entry.UserID
		starting := c.starting(s)
		text := admittedText(lab, s, now)
		tx.AfterCommit(func() {
			if c.router.Promote(lab.ID, userID, s, starting) {
				c.router.EmitSession(s.ID, notify.Message{Text: text})
			} else {
				logger.Info("promoted user has no open channel", "user_id", userID, "session_id", s.ID)
			}
			c.observer.ObserveAdmission(lab.ID, OutcomePromoted)
		})
	}

	for _, entry := range setAside {
		if err := tx.Restore(ctx, entry); err != nil {
			return 0, err
		}
	}
	if promoted == 0 && dropped == 0 {
		return 0, nil
	}

	entries, err := tx.Entries(ctx)
	if err != nil {
		return 0, err
	}
	tx.AfterCommit(func() {
		for i, entry := range entries {
			c.router.PushPosition(lab.ID, entry.UserID, i+1)
		}
	})
	return promoted, nil
}

// Cancel withdraws userID from labID's queue. Withdrawing twice is not an error.
func (c *Coordinator) Cancel(ctx context.Context, labID, userID string) error {
	if labID == "" || userID == "" {
		return ErrInvalidRequest
	}
	if _, err := c.laboratory(ctx, labID); err != nil {
		return err
	}
	_, err := c.withdraw(ctx, labID, userID, "", ReasonWithdrawn)
	return err
}

// Position returns userID's current rank without taking the laboratory lock.
func (c *Coordinator) Position(ctx context.Context, labID, userID string) (int, error) {
	if _, err := c.laboratory(ctx, labID); err != nil {
		return 0, err
	}
	return c.queue.Position(ctx, labID, userID)
}

// withdraw removes a waiting entry and tells everyone behind it about their new
// position. When channelID is set the entry is only removed while that channel
// is still the one bound to it.
func (c *Coordinator) withdraw(ctx context.Context, labID, userID, channelID, reason string) (removed bool, err error) {
	logger := c.loggerWith(ctx, "Withdraw",
		"laboratory_id", labID,
		"user_id", userID,
		"reason", reason,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "withdrawal failed", err)
			return
		}
		if removed {
			logger.InfoContext(ctx, "left the queue")
		}
	}()

	err = c.store.WithinLab(ctx, labID, func(tx persistence.LabTx) error {
		removed = false
		if channelID != "" {
			if bound, ok := c.router.WaitingChannel(labID, userID); ok && bound != channelID {
				return nil
			}
		}

		gone, err := tx.Remove(ctx, userID)
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true

		entries, err := tx.Entries(ctx)
		if err != nil {
			return err
		}
		text := ""
		if reason == ReasonWithdrawn {
			text = "You left the queue"
		}
		tx.AfterCommit(func() {
			c.router.ReleaseWaiting(labID, userID, text)
			for i, entry := range entries {
				if entry.Seq > gone.Seq {
					c.router.PushPosition(labID, entry.UserID, i+1)
				}
			}
			c.observer.ObserveCancellation(labID, reason)
		})
		return c.observeLaboratory(ctx, tx)
	})
	return removed, err
}

// disconnected removes the entry of a waiting client whose channel died.
func (c *Coordinator) disconnected(labID, userID, channelID string, _ error) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	_, _ = c.withdraw(ctx, labID, userID, channelID, ReasonDisconnected)
}

// SweepExpired completes every InProgress session whose end time has passed.
// Sessions that were ended explicitly in the meantime are skipped.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	now := c.now()
	due, err := c.store.ListSessions(ctx, persistence.SessionFilter{
		States: []session.State{session.InProgress},
		EndsBy: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	var (
		completed int
		errs      []error
	)
	for _, s := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, done, err := c.complete(ctx, s.LaboratoryID, s.ID, ReasonExpired, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire session %s: %w", s.ID, err))
			continue
		}
		if done {
			completed++
		}
	}
	return completed, errors.Join(errs...)
}

// Rebalance promotes waiting users wherever capacity is free, for example after
// the catalog raised a laboratory's capacity or hardware came back.
func (c *Coordinator) Rebalance(ctx context.Context) error {
	return c.eachLaboratory(ctx, func(lab catalog.Laboratory) error {
		return c.rebalance(ctx, lab, false)
	})
}

// Recover drops waiting entries that have no open channel, which is every entry
// left over from a previous process, and then fills free capacity.
func (c *Coordinator) Recover(ctx context.Context) error {
	return c.eachLaboratory(ctx, func(lab catalog.Laboratory) error {
		return c.rebalance(ctx, lab, true)
	})
}

func (c *Coordinator) eachLaboratory(ctx context.Context, fn func(lab catalog.Laboratory) error) error {
	labs, err := c.catalog.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, lab := range labs {
		if err := fn(lab); err != nil {
			errs = append(errs, fmt.Errorf("laboratory %s: %w", lab.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) rebalance(ctx context.Context, lab catalog.Laboratory, dropUnbound bool) error {
	logger := c.loggerWith(ctx, "Rebalance", "laboratory_id", lab.ID)

	return c.store.WithinLab(ctx, lab.ID, func(tx persistence.LabTx) error {
		if dropUnbound {
			entries, err := tx.Entries(ctx)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if _, ok := c.router.WaitingChannel(lab.ID, entry.UserID); ok {
					continue
				}
				if _, err := tx.Remove(ctx, entry.UserID); err != nil {
					return err
				}
				logger.InfoContext(ctx, "dropped orphaned queue entry", "user_id", entry.UserID)
				tx.AfterCommit(func() { c.observer.ObserveCancellation(lab.ID, ReasonOrphaned) })
			}
		}

		promoted, err := c.promote(ctx, tx, lab, logger)
		if err != nil {
			return err
		}
		if promoted > 0 {
			logger.InfoContext(ctx, "promoted waiting users", "count", promoted)
		}
		return c.observeLaboratory(ctx, tx)
	})
}

// KeepAlive pushes KeepAlive to every waiting client.
func (c *Coordinator) KeepAlive() int {
	return c.router.KeepAlive(c.now())
}

// NotifyRemaining tells every admitted client how much time it has left.
func (c *Coordinator) NotifyRemaining() int {
	return c.router.NotifyRemaining(c.now())
}

// NotifyInterval is the SessionState cadence advertised to admitted clients.
func (c *Coordinator) NotifyInterval() time.Duration {
	return c.notifyInterval
}

func (c *Coordinator) startSession(ctx context.Context, tx persistence.LabTx, lab catalog.Laboratory, userID string, now time.Time) (session.Session, error) {
	hardware, err := c.binder.Bind(ctx, lab.ID, userID)
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %w", ErrHardwareUnavailable, err)
	}

	s, err := session.Admit(session.Params{
		ID:              c.newID(),
		LaboratoryID:    lab.ID,
		HardwareID:      hardware.ID,
		HardwareAddress: hardware.Address,
		OwnerID:         userID,
	}, now, lab.Duration)
	if err != nil {
		return session.Session{}, err
	}
	if err := tx.CreateSession(ctx, s); err != nil {
		return session.Session{}, err
	}
	return s, nil
}

func (c *Coordinator) starting(s session.Session) notify.SessionStarting {
	return notify.NewSessionStarting(s.LaboratoryID, s.HardwareID, s.HardwareAddress, s.Duration(), c.notifyInterval)
}

func (c *Coordinator) observeLaboratory(ctx context.Context, tx persistence.LabTx) error {
	occupancy, err := tx.CountInProgress(ctx)
	if err != nil {
		return err
	}
	entries, err := tx.Entries(ctx)
	if err != nil {
		return err
	}
	labID := tx.LaboratoryID()
	tx.AfterCommit(func() { c.observer.ObserveLaboratory(labID, occupancy, len(entries)) })
	return nil
}

func (c *Coordinator) laboratory(ctx context.Context, labID string) (catalog.Laboratory, error) {
	lab, err := c.catalog.Lookup(ctx, labID)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Laboratory{}, ErrLaboratoryNotFound
	}
	if err != nil {
		return catalog.Laboratory{}, err
	}
	return lab, nil
}

func (c *Coordinator) lookupSession(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := c.store.GetSession(ctx, sessionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return session.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	return s, nil
}

func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error) {
	kind := ErrorKind(err)
	switch kind {
	case "unexpected", "invalid_state_transition", "persistence_conflict":
		logger.ErrorContext(ctx, msg, "error", err, "error_kind", kind)
	default:
		logger.WarnContext(ctx, msg, "error", err, "error_kind", kind)
	}
}

func queuedText(lab catalog.Laboratory, position int) string {
	return fmt.Sprintf("You are %s in line for %s", humanize.Ordinal(position), lab.Name)
}

func admittedText(lab catalog.Laboratory, s session.Session, now time.Time) string {
	return fmt.Sprintf("Your session on %s (%s) has started and ends %s",
		lab.Name, s.HardwareID, humanize.RelTime(s.EndTime, now, "ago", "from now"))
}

func endedText(reason string) string {
	if reason == ReasonExpired {
		return "Your session time is up"
	}
	return "Your session has ended"
}
