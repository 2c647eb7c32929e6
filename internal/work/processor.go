package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/insuresim/underwriter/internal/events"
	"github.com/rs/zerolog"
)

const eventSource = "work_processor"

// IdleChecker reports whether a turn is being processed.
type IdleChecker interface {
	Busy() bool
}

// Emitter publishes work lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, source string, data events.EventData, opts ...events.EmitOption) *events.Event
}

// Processor executes work items one at a time.
type Processor struct {
	registry   *Registry
	completion *CompletionTracker
	idle       IdleChecker
	emitter    Emitter
	timeout    time.Duration
	poll       time.Duration
	log        zerolog.Logger

	trigger  chan struct{}
	done     chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	queue      []*WorkItem
	retryQueue []*WorkItem
	inFlight   map[string]bool
	mu         sync.Mutex
}

// NewProcessor creates a processor. idle and emitter may be nil.
func NewProcessor(registry *Registry, completion *CompletionTracker, idle IdleChecker, emitter Emitter, log zerolog.Logger) *Processor {
	return &Processor{
		registry:   registry,
		completion: completion,
		idle:       idle,
		emitter:    emitter,
		timeout:    WorkTimeout,
		poll:       PollInterval,
		log:        log.With().Str("component", "work_processor").Logger(),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		inFlight:   make(map[string]bool),
	}
}

// SetTimeout overrides the per-item timeout.
func (p *Processor) SetTimeout(d time.Duration) {
	p.timeout = d
}

// SetPollInterval overrides how often the processor polls. Call before Run.
func (p *Processor) SetPollInterval(d time.Duration) {
	p.poll = d
}

// Run starts the processor loop. It blocks until Stop is called.
func (p *Processor) Run() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.trigger:
			p.processOne()
		case <-p.done:
			p.processOne()
		case <-ticker.C:
			p.processOne()
		}
	}
}

// Stop stops the loop and waits for it to exit. An item already running is
// left to finish on its own.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.stopped
}

// Trigger wakes the processor. It never blocks.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Enqueue requests one run of a work type for a subject. A request for an
// item that is already queued or running is ignored.
func (p *Processor) Enqueue(typeID, subject string) error {
	wt := p.registry.Get(typeID)
	if wt == nil {
		return fmt.Errorf("unknown work type: %s", typeID)
	}
	item := NewWorkItem(wt, subject)

	p.mu.Lock()
	if p.inFlight[item.ID] || containsItem(p.queue, item.ID) {
		p.mu.Unlock()
		return nil
	}
	p.queue = append(p.queue, item)
	p.mu.Unlock()

	p.Trigger()
	return nil
}

// ExecuteNow runs a work type synchronously, ignoring timing and dependencies.
func (p *Processor) ExecuteNow(ctx context.Context, typeID, subject string) error {
	wt := p.registry.Get(typeID)
	if wt == nil {
		return fmt.Errorf("unknown work type: %s", typeID)
	}
	item := NewWorkItem(wt, subject)
	if err := p.execute(ctx, item, wt); err != nil {
		return err
	}
	p.completion.MarkCompleted(item)
	return nil
}

// Pending returns the number of queued and retrying items.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + len(p.retryQueue)
}

func (p *Processor) processOne() {
	p.mu.Lock()
	if len(p.inFlight) > 0 {
		p.mu.Unlock()
		return
	}
	item, wt := p.takeQueued(&p.queue)
	p.mu.Unlock()

	if item == nil {
		item, wt = p.findNextWork()
	}
	if item == nil {
		p.mu.Lock()
		item, wt = p.takeQueued(&p.retryQueue)
		p.mu.Unlock()
	}
	if item == nil {
		return
	}

	p.mu.Lock()
	p.inFlight[item.ID] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, item.ID)
			p.mu.Unlock()

			select {
			case p.done <- struct{}{}:
			default:
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.execute(ctx, item, wt); err != nil {
			item.Retries++
			if item.Retries < MaxRetries {
				p.mu.Lock()
				p.retryQueue = append(p.retryQueue, item)
				p.mu.Unlock()
			} else {
				p.log.Warn().Str("work", item.ID).Int("retries", item.Retries).Msg("Max retries reached, dropping work")
			}
			return
		}
		p.completion.MarkCompleted(item)
	}()
}

// takeQueued removes and returns the first ready item of a queue. Must be
// called with the lock held.
func (p *Processor) takeQueued(queue *[]*WorkItem) (*WorkItem, *WorkType) {
	for i := 0; i < len(*queue); {
		item := (*queue)[i]
		wt := p.registry.Get(item.TypeID)
		if wt != nil && !p.ready(wt, item.Subject) {
			i++
			continue
		}
		*queue = append((*queue)[:i], (*queue)[i+1:]...)
		if wt != nil {
			return item, wt
		}
	}
	return nil, nil
}

func (p *Processor) findNextWork() (*WorkItem, *WorkType) {
	for _, wt := range p.registry.ByPriority() {
		if wt.FindSubjects == nil {
			continue
		}
		for _, subject := range wt.FindSubjects() {
			if wt.Interval > 0 && !p.completion.IsStale(wt.ID, subject, wt.Interval) {
				continue
			}
			if !p.ready(wt, subject) {
				continue
			}
			return NewWorkItem(wt, subject), wt
		}
	}
	return nil, nil
}

func (p *Processor) ready(wt *WorkType, subject string) bool {
	if wt.Timing == WhenIdle && p.idle != nil && p.idle.Busy() {
		return false
	}
	for _, dep := range wt.DependsOn {
		if _, ok := p.completion.GetCompletion(dep, subject); !ok {
			return false
		}
	}
	return true
}

func (p *Processor) execute(ctx context.Context, item *WorkItem, wt *WorkType) (err error) {
	start := time.Now()
	p.emit(ctx, &events.WorkEventData{Type: events.WorkStarted, WorkType: wt.ID, Subject: item.Subject})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work %s panicked: %v", item.ID, r)
		}
		elapsed := time.Since(start).Seconds()
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.log.Error().Str("work", item.ID).Msg("Work timed out")
			} else {
				p.log.Error().Err(err).Str("work", item.ID).Msg("Work failed")
			}
			p.emit(context.WithoutCancel(ctx), &events.WorkEventData{
				Type: events.WorkFailed, WorkType: wt.ID, Subject: item.Subject, Error: err.Error(), Duration: elapsed,
			})
			return
		}
		p.log.Debug().Str("work", item.ID).Float64("seconds", elapsed).Msg("Work completed")
		p.emit(ctx, &events.WorkEventData{
			Type: events.WorkCompleted, WorkType: wt.ID, Subject: item.Subject, Duration: elapsed,
		})
	}()

	return wt.Execute(ctx, item.Subject)
}

func (p *Processor) emit(ctx context.Context, data events.EventData) {
	if p.emitter != nil {
		p.emitter.Emit(ctx, eventSource, data, events.WithoutWaiting())
	}
}

func containsItem(items []*WorkItem, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}
