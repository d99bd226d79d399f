package metrics

import (
	"sync"
	"time"
)

// Source exposes the point-in-time state the collector samples
type Source interface {
	PreviewCount() int
	AcquisitionState() string
	BinaryPresent() bool
	LanguageServerRunning() (running bool, message string)
}

// AcquisitionStates lists every label value of AcquisitionState
var AcquisitionStates = []string{"idle", "downloading", "ready", "failed"}

// Collector periodically samples gauges and component health from a Source
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect samples the source once
func (c *Collector) Collect() {
	PreviewServers.Set(float64(c.source.PreviewCount()))

	current := c.source.AcquisitionState()
	for _, s := range AcquisitionStates {
		v := 0.0
		if s == current {
			v = 1
		}
		AcquisitionState.WithLabelValues(s).Set(v)
	}

	switch {
	case c.source.BinaryPresent():
		UpdateComponent(ComponentBinary, true, "")
	case current == "failed":
		UpdateComponent(ComponentBinary, false, "download cancelled, restart to retry")
	default:
		UpdateComponent(ComponentBinary, false, "binary not installed ("+current+")")
	}

	running, msg := c.source.LanguageServerRunning()
	UpdateComponent(ComponentLanguageServer, running, msg)
}
