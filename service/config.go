package service

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/kevinxiao27/livelist/store/memstore"
)

var (
	ErrNoConfig       = errors.New("service: no database url configured")
	ErrUnsupportedURL = errors.New("service: unsupported database url")
)

const defaultStoreName = "default"

// Config locates the root of a service. DatabaseURL has the form
// mem://<store>/<path>; Name picks the store when the url has no host.
type Config struct {
	DatabaseURL string
	Name        string
}

func (c Config) storeAndPath() (string, string, error) {
	if c.DatabaseURL == "" {
		return "", "", ErrNoConfig
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "mem" {
		return "", "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	name := u.Host
	if name == "" {
		name = c.Name
	}
	if name == "" {
		name = defaultStoreName
	}
	return name, u.Path, nil
}

// Connect opens the store named by cfg and returns a service for its path.
// Stores are shared by name within the process.
func Connect(cfg Config) (*Service, error) {
	name, path, err := cfg.storeAndPath()
	if err != nil {
		return nil, err
	}
	db := memstore.Open(name)
	if _, err := db.Get(path); err != nil {
		return nil, fmt.Errorf("service: connect %s: %w", cfg.DatabaseURL, err)
	}
	return New(db.Ref(path)), nil
}

type defaultApp struct {
	once  sync.Once
	ready atomic.Bool
	svc   *Service
	err   error
}

var app = &defaultApp{}

// Initialize connects the process default service. Only the first call
// connects; later calls return its outcome whatever their config.
func Initialize(cfg Config) (*Service, error) {
	a := app
	a.once.Do(func() {
		a.svc, a.err = Connect(cfg)
		a.ready.Store(true)
		if a.err != nil {
			glog.Errorf("[service]initialize %s error = %s\n", cfg.DatabaseURL, a.err)
			return
		}
		glog.Infof("[service]initialized %s\n", cfg.DatabaseURL)
	})
	return a.svc, a.err
}

// Default returns the service set up by Initialize, or ErrNoConfig before
// Initialize has completed.
func Default() (*Service, error) {
	a := app
	if !a.ready.Load() {
		return nil, ErrNoConfig
	}
	return a.svc, a.err
}
