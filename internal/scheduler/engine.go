// Package scheduler wakes the delivery loop when a queued reminder becomes
// due, so the loop does not have to poll at a fine interval.
package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidWakeTime = errors.New("scheduler: invalid wake time")
	ErrStopped         = errors.New("scheduler: engine stopped")
)

// Wake is a pending fire time for one reminder.
type Wake struct {
	ReminderID string
	At         time.Time
}

type wakeItem struct {
	wake  Wake
	index int
}

type wakeHeap []*wakeItem

func (h wakeHeap) Len() int { return len(h) }

func (h wakeHeap) Less(i, j int) bool {
	if h[i].wake.At.Equal(h[j].wake.At) {
		return h[i].wake.ReminderID < h[j].wake.ReminderID
	}
	return h[i].wake.At.Before(h[j].wake.At)
}

func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeHeap) Push(x any) {
	item := x.(*wakeItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Engine holds at most one wake per reminder and emits wakes on C once their
// time has come. Emission never blocks; wakes that find the channel full are
// counted as dropped, which is harmless because one wake triggers a full
// delivery pass.
type Engine struct {
	mu      sync.Mutex
	heap    wakeHeap
	byID    map[string]*wakeItem
	now     func() time.Time
	out     chan Wake
	wakeup  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
	dropped uint64
}

func NewEngine(bufferSize int, now func() time.Time) *Engine {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		byID:   make(map[string]*wakeItem),
		now:    now,
		out:    make(chan Wake, bufferSize),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (e *Engine) C() <-chan Wake {
	return e.out
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.loop()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()
	<-e.doneCh
}

// Schedule sets the reminder's wake time, replacing any earlier one.
func (e *Engine) Schedule(w Wake) error {
	if w.At.IsZero() || w.ReminderID == "" {
		return ErrInvalidWakeTime
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	e.put(w)
	e.signalWakeup()
	return nil
}

func (e *Engine) Cancel(reminderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if item, ok := e.byID[reminderID]; ok {
		heap.Remove(&e.heap, item.index)
		delete(e.byID, reminderID)
		e.signalWakeup()
	}
}

// Reset replaces every pending wake with wakes, typically the current
// contents of the delivery queue.
func (e *Engine) Reset(wakes []Wake) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	e.heap = e.heap[:0]
	e.byID = make(map[string]*wakeItem, len(wakes))
	for _, w := range wakes {
		if w.At.IsZero() || w.ReminderID == "" {
			continue
		}
		e.put(w)
	}
	e.signalWakeup()
	return nil
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.heap)
}

func (e *Engine) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

func (e *Engine) put(w Wake) {
	if item, ok := e.byID[w.ReminderID]; ok {
		item.wake = w
		heap.Fix(&e.heap, item.index)
		return
	}
	item := &wakeItem{wake: w}
	heap.Push(&e.heap, item)
	e.byID[w.ReminderID] = item
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	defer close(e.out)

	var timer *time.Timer
	defer func() { stopTimer(timer) }()
	for {
		next, ok := e.peek()
		if !ok {
			select {
			case <-e.wakeup:
				continue
			case <-e.stopCh:
				return
			}
		}

		wait := next.At.Sub(e.now())
		if wait < 0 {
			wait = 0
		}
		timer = resetTimer(timer, wait)

		select {
		case <-timer.C:
			for _, w := range e.popDue(e.now()) {
				select {
				case e.out <- w:
				default:
					atomic.AddUint64(&e.dropped, 1)
				}
			}
		case <-e.wakeup:
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) signalWakeup() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

func (e *Engine) peek() (Wake, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.heap) == 0 {
		return Wake{}, false
	}
	return e.heap[0].wake, true
}

func (e *Engine) popDue(now time.Time) []Wake {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Wake
	for len(e.heap) > 0 && !e.heap[0].wake.At.After(now) {
		item := heap.Pop(&e.heap).(*wakeItem)
		delete(e.byID, item.wake.ReminderID)
		out = append(out, item.wake)
	}
	return out
}

func resetTimer(timer *time.Timer, d time.Duration) *time.Timer {
	if timer == nil {
		return time.NewTimer(d)
	}
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
