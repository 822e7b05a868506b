// Package promhooks exports cache events as Prometheus metrics.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/layercache"
)

// Event label values of events_total.
const (
	EventHit                  = "hit"
	EventStaleHit             = "stale_hit"
	EventMiss                 = "miss"
	EventSet                  = "set"
	EventRemove               = "remove"
	EventExpire               = "expire"
	EventFactoryError         = "factory_error"
	EventFactoryTimeout       = "factory_timeout"
	EventFailSafe             = "fail_safe"
	EventBackgroundSuccess    = "background_factory_success"
	EventBackgroundError      = "background_factory_error"
	EventDistributedError     = "distributed_error"
	EventBackplanePublished   = "backplane_published"
	EventBackplaneReceived    = "backplane_received"
	EventAutoRecoveryEnqueued = "auto_recovery_enqueued"
	EventAutoRecoveryReplayed = "auto_recovery_replayed"
)

type Config struct {
	Namespace string // default "layercache"
	Subsystem string
	CacheName string // value of the "cache" label
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Hooks counts events. One instance serves one cache.
type Hooks struct {
	events    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	circuit   *prometheus.GaugeVec
	cache     string
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(cfg Config) (*Hooks, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = "layercache"
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels{"cache": cfg.CacheName}

	h := &Hooks{
		cache: cfg.CacheName,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   cfg.Subsystem,
			Name:        "events_total",
			Help:        "Cache events by kind",
			ConstLabels: constLabels,
		}, []string{"event"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   cfg.Subsystem,
			Name:        "local_evictions_total",
			Help:        "Entries dropped by the local store on its own",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   cfg.Subsystem,
			Name:        "auto_recovery_dropped_total",
			Help:        "Undelivered notifications given up on",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		circuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   cfg.Subsystem,
			Name:        "circuit_open",
			Help:        "1 while the circuit breaker of a component is open",
			ConstLabels: constLabels,
		}, []string{"component"}),
	}

	for _, c := range []prometheus.Collector{h.events, h.evictions, h.dropped, h.circuit} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	h.circuit.WithLabelValues(layercache.ComponentDistributed).Set(0)
	h.circuit.WithLabelValues(layercache.ComponentBackplane).Set(0)
	return h, nil
}

func (h *Hooks) inc(event string) { h.events.WithLabelValues(event).Inc() }

func (h *Hooks) Hit(_, _ string, stale bool) {
	if stale {
		h.inc(EventStaleHit)
		return
	}
	h.inc(EventHit)
}

func (h *Hooks) Miss(string, string)                          { h.inc(EventMiss) }
func (h *Hooks) Set(string, string)                           { h.inc(EventSet) }
func (h *Hooks) Remove(string, string)                        { h.inc(EventRemove) }
func (h *Hooks) Expire(string, string)                        { h.inc(EventExpire) }
func (h *Hooks) FactoryError(string, string, error)           { h.inc(EventFactoryError) }
func (h *Hooks) FactorySyntheticTimeout(string, string)       { h.inc(EventFactoryTimeout) }
func (h *Hooks) FailSafeActivated(string, string)             { h.inc(EventFailSafe) }
func (h *Hooks) BackgroundFactorySuccess(string, string)      { h.inc(EventBackgroundSuccess) }
func (h *Hooks) BackgroundFactoryError(string, string, error) { h.inc(EventBackgroundError) }
func (h *Hooks) DistributedError(string, string, error)       { h.inc(EventDistributedError) }
func (h *Hooks) BackplanePublished(string, string, string)    { h.inc(EventBackplanePublished) }
func (h *Hooks) BackplaneReceived(string, string)             { h.inc(EventBackplaneReceived) }
func (h *Hooks) AutoRecoveryEnqueued(string)                  { h.inc(EventAutoRecoveryEnqueued) }
func (h *Hooks) AutoRecoveryReplayed(string)                  { h.inc(EventAutoRecoveryReplayed) }

func (h *Hooks) Eviction(_, reason string) { h.evictions.WithLabelValues(reason).Inc() }

func (h *Hooks) AutoRecoveryDropped(_, reason string) { h.dropped.WithLabelValues(reason).Inc() }

func (h *Hooks) CircuitBreakerChanged(component string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	h.circuit.WithLabelValues(component).Set(v)
}
