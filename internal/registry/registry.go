// Package registry holds live sessions keyed by id and closes them once they
// sit idle past their TTL.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/engine"
	"github.com/23skdu/longbow-parley/internal/logger"
	"github.com/23skdu/longbow-parley/internal/metrics"
	"github.com/23skdu/longbow-parley/internal/session"
)

const DefaultTTL = 30 * time.Minute

var ErrSessionNotFound = errors.New("session not found")

// Factory builds a session from a host option mapping.
type Factory func(options map[string]string) (*session.Session, error)

// ReferenceFactory creates sessions backed by the reference engine. Request
// options are layered over base.
func ReferenceFactory(base map[string]string) Factory {
	return func(options map[string]string) (*session.Session, error) {
		merged := config.Merge(config.Merge(nil, base), options)
		store, err := config.New(merged)
		if err != nil {
			metrics.RecordValidationError("create", "config")
			return nil, err
		}
		eng, err := engine.Open(store)
		if err != nil {
			return nil, err
		}
		return session.New(store, eng)
	}
}

type Registry struct {
	cache   *ttlcache.Cache[string, *session.Session]
	factory Factory
	log     *logger.Logger
}

func New(ttl time.Duration, factory Factory) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		cache: ttlcache.New[string, *session.Session](
			ttlcache.WithTTL[string, *session.Session](ttl),
		),
		factory: factory,
		log:     logger.Log.With("registry"),
	}
	r.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *session.Session]) {
		item.Value().Close()
		metrics.ActiveSessions.Dec()
		r.log.Info("session closed", "id", item.Key(), "reason", evictionReason(reason))
	})
	go r.cache.Start()
	return r
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	default:
		return "capacity"
	}
}

// Create builds a session and stores it under a fresh time-ordered id.
func (r *Registry) Create(options map[string]string) (string, *session.Session, error) {
	s, err := r.factory(options)
	if err != nil {
		return "", nil, err
	}
	id := uuid.Must(uuid.NewV7()).String()
	r.cache.Set(id, s, ttlcache.DefaultTTL)
	metrics.ActiveSessions.Inc()
	r.log.Info("session created", "id", id)
	return id, s, nil
}

// Get returns the session and extends its TTL.
func (r *Registry) Get(id string) (*session.Session, error) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	return item.Value(), nil
}

func (r *Registry) Delete(id string) error {
	if !r.cache.Has(id) {
		return ErrSessionNotFound
	}
	r.cache.Delete(id)
	return nil
}

func (r *Registry) Len() int { return r.cache.Len() }

// Close stops expiry and closes every remaining session.
func (r *Registry) Close() {
	r.cache.Stop()
	r.cache.DeleteAll()
}
