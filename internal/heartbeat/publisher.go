package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
)

// Beat refreshes whatever the publisher keeps alive.
type Beat func(ctx context.Context) error

// FailureFunc is called from the publisher goroutine after a failed beat.
//
// It must not call Stop; hand off to another goroutine instead.
type FailureFunc func(err error, sinceSuccess time.Duration)

// Publisher runs a Beat at a regular interval until stopped.
type Publisher struct {
	beat     Beat
	interval time.Duration
	timeout  time.Duration

	mu          sync.Mutex
	started     bool
	onFailure   FailureFunc
	lastSuccess time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	ticker      *time.Ticker
}

// New creates a new heartbeat publisher.
//
// Parameters:
//   - beat: Refresh function, called once per interval
//   - interval: Time between beats; each beat is bounded by the same duration
//
// Returns:
//   - *Publisher: Stopped publisher
func New(beat Beat, interval time.Duration) *Publisher {
	return &Publisher{
		beat:     beat,
		interval: interval,
		timeout:  interval,
	}
}

// OnFailure registers fn to observe failed beats.
func (p *Publisher) OnFailure(fn FailureFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onFailure = fn
}

// Start runs the first beat synchronously, then continues in the background.
//
// Parameters:
//   - ctx: Bounds the first beat only
//
// Returns:
//   - error: ErrAlreadyStarted, or the first beat's failure
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	if err := p.beat(ctx); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}

	p.started = true
	p.lastSuccess = time.Now()
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)

	go p.loop(p.ticker, p.stopCh, p.doneCh)

	return nil
}

// Stop stops the publisher and waits for the background goroutine to exit.
//
// Returns:
//   - error: ErrNotStarted if not running
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}

	p.ticker.Stop()
	close(p.stopCh)
	p.started = false
	done := p.doneCh
	p.mu.Unlock()

	<-done

	return nil
}

// IsStarted returns whether the publisher is currently running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}

// LastSuccess returns the time of the last successful beat.
func (p *Publisher) LastSuccess() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastSuccess
}

func (p *Publisher) loop(ticker *time.Ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			err := p.beat(ctx)
			cancel()

			p.mu.Lock()
			if err == nil {
				p.lastSuccess = time.Now()
			}
			since := time.Since(p.lastSuccess)
			onFailure := p.onFailure
			p.mu.Unlock()

			if err != nil && onFailure != nil {
				onFailure(err, since)
			}
		}
	}
}
