package admission

import (
	"sync"
	"time"
)

// PlanLimits bounds one subscription plan. Daily of zero means the plan
// has no daily cap; Monthly is always enforced.
type PlanLimits struct {
	Daily   uint64
	Monthly uint64
}

// QuotaDecision reports one ledger consumption attempt.
type QuotaDecision struct {
	Allowed bool
	Plan    string
	// RemainingDay is nil for plans without a daily cap.
	RemainingDay   *uint64
	RemainingMonth uint64
	// Exceeded names the window that rejected the request, "daily" or
	// "monthly". Empty when allowed.
	Exceeded string
}

type usageEntry struct {
	plan       string
	day        string
	dayCount   uint64
	month      string
	monthCount uint64
	touched    time.Time
}

// Ledger tracks rolling daily and monthly consumption per identity.
// Windows are calendar-based in UTC and roll over lazily on access, so an
// idle identity costs nothing between requests. Rejected attempts never
// mutate the counters.
type Ledger struct {
	mu          sync.Mutex
	entries     map[string]*usageEntry
	plans       map[string]PlanLimits
	defaultPlan string
	now         func() time.Time
}

// NewLedger creates a quota ledger. Identities presenting an unknown plan
// are treated as defaultPlan.
func NewLedger(plans map[string]PlanLimits, defaultPlan string) *Ledger {
	return &Ledger{
		entries:     make(map[string]*usageEntry),
		plans:       plans,
		defaultPlan: defaultPlan,
		now:         time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// TryConsume charges n units against identity's quota, or rejects without
// charging anything. The monthly window is checked before the daily one.
func (l *Ledger) TryConsume(identity, plan string, n uint64) QuotaDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits, planName := l.resolvePlan(plan)

	now := l.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	e, ok := l.entries[identity]
	if !ok {
		e = &usageEntry{day: day, month: month}
		l.entries[identity] = e
	}
	e.plan = planName
	e.touched = now

	// Lazy calendar rollover. A new month implies a new day.
	if e.month != month {
		e.month = month
		e.monthCount = 0
		e.day = day
		e.dayCount = 0
	} else if e.day != day {
		e.day = day
		e.dayCount = 0
	}

	if e.monthCount+n > limits.Monthly {
		return QuotaDecision{
			Plan:           planName,
			RemainingDay:   remainingDay(limits, e),
			RemainingMonth: remainingMonth(limits, e),
			Exceeded:       "monthly",
		}
	}
	if limits.Daily > 0 && e.dayCount+n > limits.Daily {
		return QuotaDecision{
			Plan:           planName,
			RemainingDay:   remainingDay(limits, e),
			RemainingMonth: remainingMonth(limits, e),
			Exceeded:       "daily",
		}
	}

	e.dayCount += n
	e.monthCount += n
	return QuotaDecision{
		Allowed:        true,
		Plan:           planName,
		RemainingDay:   remainingDay(limits, e),
		RemainingMonth: remainingMonth(limits, e),
	}
}

func remainingDay(limits PlanLimits, e *usageEntry) *uint64 {
	if limits.Daily == 0 {
		return nil
	}
	var rem uint64
	if e.dayCount < limits.Daily {
		rem = limits.Daily - e.dayCount
	}
	return &rem
}

// remainingMonth saturates at zero; a plan change can leave the stored
// count above the new cap.
func remainingMonth(limits PlanLimits, e *usageEntry) uint64 {
	if e.monthCount < limits.Monthly {
		return limits.Monthly - e.monthCount
	}
	return 0
}

func (l *Ledger) resolvePlan(plan string) (PlanLimits, string) {
	if limits, ok := l.plans[plan]; ok {
		return limits, plan
	}
	return l.plans[l.defaultPlan], l.defaultPlan
}

// UsageSnapshot is one identity's counters at a point in time.
type UsageSnapshot struct {
	Identity   string
	Plan       string
	Day        string
	DayCount   uint64
	Month      string
	MonthCount uint64
	Touched    time.Time
}

// Snapshot copies the live counters for persistence.
func (l *Ledger) Snapshot() []UsageSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]UsageSnapshot, 0, len(l.entries))
	for id, e := range l.entries {
		out = append(out, UsageSnapshot{
			Identity:   id,
			Plan:       e.plan,
			Day:        e.day,
			DayCount:   e.dayCount,
			Month:      e.month,
			MonthCount: e.monthCount,
			Touched:    e.touched,
		})
	}
	return out
}

// Restore seeds the ledger from persisted snapshots. Existing entries for
// the same identity are overwritten. Stale windows are fine; the next
// TryConsume rolls them over.
func (l *Ledger) Restore(snapshots []UsageSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range snapshots {
		l.entries[s.Identity] = &usageEntry{
			plan:       s.Plan,
			day:        s.Day,
			dayCount:   s.DayCount,
			month:      s.Month,
			monthCount: s.MonthCount,
			touched:    s.Touched,
		}
	}
}

// Evict drops entries idle since before the cutoff and reports how many
// were removed.
func (l *Ledger) Evict(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		if e.touched.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Size reports the number of tracked identities.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
