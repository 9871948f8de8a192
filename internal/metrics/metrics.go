package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livelist"

type Collectors struct {
	Applied   *prometheus.CounterVec // collection, kind
	Ignored   *prometheus.CounterVec // collection, kind
	Snapshots *prometheus.CounterVec // collection
}

var (
	mu    sync.Mutex
	cache = map[prometheus.Registerer]*Collectors{}
)

// For returns the collectors registered on reg, registering them on first use.
func For(reg prometheus.Registerer) (*Collectors, error) {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := cache[reg]; ok {
		return c, nil
	}

	c := &Collectors{
		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Child events that mutated a collection.",
		}, []string{"collection", "kind"}),
		Ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ignored_total",
			Help:      "Child events for keys that are not in the collection.",
		}, []string{"collection", "kind"}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshots published to subscribers.",
		}, []string{"collection"}),
	}

	var err error
	c.Applied, err = register(reg, c.Applied)
	if err != nil {
		return nil, err
	}
	c.Ignored, err = register(reg, c.Ignored)
	if err != nil {
		return nil, err
	}
	c.Snapshots, err = register(reg, c.Snapshots)
	if err != nil {
		return nil, err
	}

	cache[reg] = c
	return c, nil
}

func register(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}
