package stimulus

import "time"

// swTimer is a one-shot software timer polled by the controller loop.
type swTimer struct {
	deadline time.Time
	running  bool
}

func (t *swTimer) start(d time.Duration) {
	t.deadline = time.Now().Add(d)
	t.running = true
}

func (t *swTimer) stop() { t.running = false }

func (t *swTimer) isRunning() bool { return t.running }

// expired reports whether a running timer has passed its deadline. The
// caller stops the timer after consuming the expiry.
func (t *swTimer) expired() bool {
	return t.running && !time.Now().Before(t.deadline)
}
