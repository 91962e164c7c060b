package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiSink fans entries out to several sinks
type MultiSink struct {
	sinks   []Sink
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiSink creates a synchronous fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{
		sinks:   sinks,
		errChan: make(chan error, len(sinks)),
	}
}

// SetAsync sets whether writes return before the sinks finish
func (m *MultiSink) SetAsync(async bool) {
	m.async = async
}

// Write sends entry to every sink. In synchronous mode the first error is
// returned after all sinks have been tried.
func (m *MultiSink) Write(ctx context.Context, entry *Entry) error {
	if len(m.sinks) == 0 {
		return nil
	}

	if m.async {
		for _, sink := range m.sinks {
			m.wg.Add(1)
			go func(s Sink) {
				defer m.wg.Done()
				if err := s.Write(context.WithoutCancel(ctx), entry); err != nil {
					select {
					case m.errChan <- err:
					default:
						// Channel full, drop error
					}
				}
			}(sink)
		}
		return nil
	}

	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Wait waits for pending asynchronous writes
func (m *MultiSink) Wait() {
	m.wg.Wait()
}

// Errors drains errors collected from asynchronous writes
func (m *MultiSink) Errors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending writes and closes every sink
func (m *MultiSink) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close sink: %w", err)
		}
	}
	return firstErr
}
