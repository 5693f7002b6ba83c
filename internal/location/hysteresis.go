package location

import "time"

// Engine defaults. A notification requires two back-to-back detections and
// repeats at most once per cooldown while proximity holds.
const (
	DefaultConsecutiveThreshold = 2
	DefaultNotificationCooldown = 60 * time.Second
)

// Engine is the pure hysteresis decision function. It debounces the noisy
// "someone is nearby" boolean into a rate-limited alert signal.
type Engine struct {
	Threshold int
	Cooldown  time.Duration
}

// DefaultEngine returns an engine with the stock threshold and cooldown.
func DefaultEngine() Engine {
	return Engine{
		Threshold: DefaultConsecutiveThreshold,
		Cooldown:  DefaultNotificationCooldown,
	}
}

// Decision is the engine output for one report.
type Decision struct {
	Count      int
	NotifiedAt *time.Time
	Notify     bool
}

// Evaluate computes the next counter state and whether to alert.
//
// A missed detection resets the counter to zero outright; there is no
// partial credit. Detections saturate the counter at the threshold, so a
// user who stays in proximity keeps re-qualifying and is then gated only by
// the cooldown. NotifiedAt moves forward only when Notify is true; a reset
// never rewinds it.
func (e Engine) Evaluate(prevCount int, prevNotifiedAt *time.Time, detected bool, now time.Time) Decision {
	if !detected {
		return Decision{Count: 0, NotifiedAt: prevNotifiedAt}
	}

	count := prevCount + 1
	if count > e.Threshold {
		count = e.Threshold
	}

	d := Decision{Count: count, NotifiedAt: prevNotifiedAt}
	if count < e.Threshold {
		return d
	}

	// Confirmed. Nil prevNotifiedAt means never notified, i.e. infinite
	// elapsed time.
	if prevNotifiedAt == nil || now.Sub(*prevNotifiedAt) > e.Cooldown {
		notifiedAt := now
		d.NotifiedAt = &notifiedAt
		d.Notify = true
	}
	return d
}
