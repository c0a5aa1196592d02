package update

import (
	"errors"
	"sync"
	"time"
)

var ErrScreenBusy = errors.New("watch screen is not keeping up with notifications")

// Notifier is a delivery target that hands notifications to the screen.
// A full buffer fails the delivery so the queue retries it later.
type Notifier struct {
	mu     sync.Mutex
	ch     chan Notice
	now    func() time.Time
	closed bool
}

func NewNotifier(buffer int, now func() time.Time) *Notifier {
	if buffer <= 0 {
		buffer = maxNotifications
	}
	if now == nil {
		now = time.Now
	}
	return &Notifier{ch: make(chan Notice, buffer), now: now}
}

func (n *Notifier) Display(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrScreenBusy
	}
	select {
	case n.ch <- Notice{Title: title, Body: body, At: n.now()}:
		return nil
	default:
		return ErrScreenBusy
	}
}

func (n *Notifier) C() <-chan Notice { return n.ch }

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}
