package sched

import (
	"sync"

	"github.com/google/uuid"
)

// cancelBehindWindow is how many pages behind the reading position a
// processing task may fall before it is cancelled. Pages the reader has
// scrolled past by more than this are wasted work.
const cancelBehindWindow = 2

// Task is one unit of position-scheduled work.
type Task struct {
	// ID correlates the task across log lines.
	ID uuid.UUID

	// Page is the page index the task enhances.
	Page int

	run    func() error
	cancel func()

	done chan struct{}
	err  error
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's terminal error. Valid after Done is closed; nil
// means the task completed.
func (t *Task) Err() error {
	return t.err
}

// Pages is the position-aware task scheduler used for continuous,
// sequential reading layouts. It tracks the current reading page and
// repeatedly selects, from all queued tasks, the one the reader is about
// to need: the current page if queued, else the nearest future page, else
// the nearest past page. Future pages always outrank past pages of equal
// distance: prioritize what the user is about to see, then backfill what
// was skipped.
type Pages struct {
	mu     sync.Mutex
	cond   *sync.Cond
	pos    int
	queued map[int]*Task
	states map[int]State
	active *Task
	closed bool
	wg     sync.WaitGroup
}

// NewPages creates a position-aware scheduler and starts its worker.
func NewPages() *Pages {
	p := &Pages{
		queued: make(map[int]*Task),
		states: make(map[int]State),
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.worker()
	return p
}

// Enqueue registers work for a page. run executes on the worker; cancel
// (optional) is invoked to cooperatively abort the task when it is pruned
// while processing. If the page is already queued, the existing task is
// returned unchanged.
func (p *Pages) Enqueue(page int, run func() error, cancel func()) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		t := &Task{ID: uuid.New(), Page: page, done: make(chan struct{}), err: ErrClosed}
		close(t.done)
		return t
	}

	if existing, ok := p.queued[page]; ok {
		return existing
	}

	t := &Task{
		ID:     uuid.New(),
		Page:   page,
		run:    run,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.queued[page] = t
	p.states[page] = StateQueued
	slogger().Debug("sched: page task queued", "id", t.ID, "page", page)
	p.cond.Signal()
	return t
}

// OnPositionChanged updates the current reading page. A processing task
// more than cancelBehindWindow pages behind the new position is signaled
// to abort; queued tasks are left alone since selection re-ranks them
// anyway.
func (p *Pages) OnPositionChanged(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pos = page
	if p.active != nil && p.active.Page < page-cancelBehindWindow {
		slogger().Debug("sched: cancelling stale processing task",
			"id", p.active.ID, "page", p.active.Page, "position", page)
		if p.active.cancel != nil {
			p.active.cancel()
		}
	}
}

// Position returns the current reading page.
func (p *Pages) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// State returns the lifecycle state recorded for a page, so callers can
// decide whether to re-submit, wait, or show a fallback.
func (p *Pages) State(page int) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[page]
}

// Cancel discards a page's queued task, or signals abort if it is
// processing.
func (p *Pages) Cancel(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.queued[page]; ok {
		delete(p.queued, page)
		p.states[page] = StateCancelled
		t.err = ErrCancelled
		close(t.done)
		return
	}
	if p.active != nil && p.active.Page == page && p.active.cancel != nil {
		p.active.cancel()
	}
}

// Reset clears all state and returns the position counter to zero (new
// document).
func (p *Pages) Reset() {
	p.clear(true)
}

// Restart clears queued and in-flight work but preserves the position
// counter (settings change mid-document).
func (p *Pages) Restart() {
	p.clear(false)
}

func (p *Pages) clear(resetPos bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for page, t := range p.queued {
		t.err = ErrCancelled
		close(t.done)
		delete(p.queued, page)
	}
	p.states = make(map[int]State)
	if p.active != nil && p.active.cancel != nil {
		p.active.cancel()
	}
	if resetPos {
		p.pos = 0
	}
}

// Close stops the worker and discards queued tasks.
// Close is safe to call multiple times.
func (p *Pages) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for page, t := range p.queued {
		t.err = ErrClosed
		close(t.done)
		delete(p.queued, page)
	}
	if p.active != nil && p.active.cancel != nil {
		p.active.cancel()
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// worker selects and runs one task at a time.
func (p *Pages) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queued) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}

		page := pickPage(p.queuedPages(), p.pos)
		t := p.queued[page]
		delete(p.queued, page)
		p.states[page] = StateProcessing
		p.active = t
		p.mu.Unlock()

		err := t.run()

		p.mu.Lock()
		p.active = nil
		if err != nil {
			p.states[page] = StateCancelled
		} else {
			p.states[page] = StateCompleted
		}
		t.err = err
		close(t.done)
		p.mu.Unlock()
	}
}

// queuedPages returns the queued page indices. Caller holds p.mu.
func (p *Pages) queuedPages() []int {
	pages := make([]int, 0, len(p.queued))
	for page := range p.queued {
		pages = append(pages, page)
	}
	return pages
}

// pickPage selects the next page to process: the current position if
// queued, else the nearest future page (ascending distance), else the
// nearest past page (ascending distance).
func pickPage(pages []int, pos int) int {
	bestFuture, haveFuture := 0, false
	bestPast, havePast := 0, false

	for _, page := range pages {
		if page == pos {
			return page
		}
		if page > pos {
			if !haveFuture || page < bestFuture {
				bestFuture = page
				haveFuture = true
			}
		} else {
			if !havePast || page > bestPast {
				bestPast = page
				havePast = true
			}
		}
	}

	if haveFuture {
		return bestFuture
	}
	return bestPast
}
