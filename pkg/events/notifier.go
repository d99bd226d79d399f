package events

import (
	"sync"

	"github.com/cuemby/tinymistd/pkg/log"
)

// Notifier is the sink for messages a user should see
type Notifier interface {
	Warn(msg string)
	Error(msg string)
}

// BrokerNotifier publishes user messages onto a Broker and mirrors them to the log
type BrokerNotifier struct {
	broker *Broker
}

// NewNotifier returns a Notifier backed by broker. A nil broker only logs.
func NewNotifier(broker *Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

func (n *BrokerNotifier) Warn(msg string) {
	logger := log.WithComponent("notify")
	logger.Warn().Msg(msg)
	n.broker.Emit(EventUserWarning, msg, nil)
}

func (n *BrokerNotifier) Error(msg string) {
	logger := log.WithComponent("notify")
	logger.Error().Msg(msg)
	n.broker.Emit(EventUserError, msg, nil)
}

// Discard is a Notifier that drops every message
type Discard struct{}

func (Discard) Warn(string)  {}
func (Discard) Error(string) {}

// Recorder keeps notifications in memory. Useful for tests and the CLI.
type Recorder struct {
	mu       sync.Mutex
	warnings []string
	errors   []string
}

func (r *Recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// Warnings returns a copy of the recorded warnings
func (r *Recorder) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// Errors returns a copy of the recorded errors
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
