package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meterbridge/meterbridge/internal/domain/state"
	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/storage"
	"github.com/meterbridge/meterbridge/internal/types"
)

// stateRepository persists the state document in object storage. The
// document holds every ServiceKey's state, keyed by the key's string form,
// and is rewritten wholesale on each save so partial progress survives a
// crash mid-month.
type stateRepository struct {
	store  storage.ObjectStore
	path   string
	logger *logger.Logger

	mu  sync.Mutex
	doc map[string]*state.ServiceState
}

// StatePath returns the object key the state document lives under for a
// ServiceKey.
func StatePath(key types.ServiceKey) string {
	return fmt.Sprintf("clazar/%s-%s-%s-export_state.json", key.Service, key.Environment, key.Plan)
}

func NewStateRepository(store storage.ObjectStore, key types.ServiceKey, log *logger.Logger) state.Repository {
	return &stateRepository{
		store:  store,
		path:   StatePath(key),
		logger: log,
	}
}

func (r *stateRepository) Load(ctx context.Context, key types.ServiceKey) (*state.ServiceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadDocument(ctx); err != nil {
		return nil, err
	}

	st, ok := r.doc[key.String()]
	if !ok {
		st = state.NewServiceState()
		r.doc[key.String()] = st
	}
	return st, nil
}

func (r *stateRepository) Save(ctx context.Context, key types.ServiceKey, st *state.ServiceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc == nil {
		if err := r.loadDocument(ctx); err != nil {
			return err
		}
	}
	r.doc[key.String()] = st

	body, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return ierr.WithError(err).
			WithHint("failed to serialize state document").
			Mark(ierr.ErrStateStore)
	}

	if err := r.store.Put(ctx, r.path, body, "application/json"); err != nil {
		return ierr.WithError(err).
			WithHintf("failed to save state document %s", r.path).
			Mark(ierr.ErrStateStore)
	}

	r.logger.Debugw("saved state document", "path", r.path)
	return nil
}

func (r *stateRepository) ValidateAccess(ctx context.Context, key types.ServiceKey) error {
	st, err := r.Load(ctx, key)
	if err != nil {
		return err
	}
	// Write the document straight back to prove write access before any
	// submission work starts.
	if err := r.Save(ctx, key, st); err != nil {
		return err
	}
	r.logger.Infow("validated state document access", "path", r.path)
	return nil
}

// loadDocument reads the full document from storage. A missing document is
// a fresh start; any other failure is fatal because proceeding without the
// prior state risks duplicate submissions.
func (r *stateRepository) loadDocument(ctx context.Context) error {
	body, err := r.store.Get(ctx, r.path)
	if err != nil {
		if ierr.IsNotFound(err) {
			r.logger.Infow("state document not found, starting with empty state", "path", r.path)
			r.doc = make(map[string]*state.ServiceState)
			return nil
		}
		return ierr.WithError(err).
			WithHintf("failed to load state document %s", r.path).
			Mark(ierr.ErrStateStore)
	}

	doc := make(map[string]*state.ServiceState)
	if err := json.Unmarshal(body, &doc); err != nil {
		return ierr.WithError(err).
			WithHintf("state document %s is not valid JSON", r.path).
			Mark(ierr.ErrStateStore)
	}

	r.doc = doc
	return nil
}
