package collection

import (
	"encoding/json"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

// Decoder converts a raw store value into out, which points at the element
// type of the collection.
type Decoder func(raw any, out any) error

type options struct {
	copySnapshots bool
	decode        Decoder
	equal         func(a, b any) bool
	name          string
	registerer    prometheus.Registerer
}

func defaultOptions() options {
	return options{
		copySnapshots: true,
		decode:        JSONDecoder,
		equal:         reflect.DeepEqual,
		name:          "default",
	}
}

type Option func(*options)

// WithCopySnapshots controls whether published snapshots are fresh slices
// (the default) or the live backing slices. Live slices are cheaper but alias
// every later mutation, so subscribers must not retain them.
func WithCopySnapshots(enabled bool) Option {
	return func(o *options) {
		o.copySnapshots = enabled
	}
}

func WithDecoder(decode Decoder) Option {
	return func(o *options) {
		if decode != nil {
			o.decode = decode
		}
	}
}

// WithEqual sets the value equality used by IndexOf and Find.
func WithEqual(equal func(a, b any) bool) Option {
	return func(o *options) {
		if equal != nil {
			o.equal = equal
		}
	}
}

// WithName labels the collection's metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithRegisterer enables metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// JSONDecoder round trips raw through encoding/json.
func JSONDecoder(raw any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
