// Package store keeps enrolled identities and their templates in an
// append-only in-memory index that is written through to a durable backend.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/logging"
)

// Backend persists what the store accepts. Writes happen while the store
// holds its write lock, so a failed write leaves the index untouched.
type Backend interface {
	SaveIdentity(ctx context.Context, identity biometric.Identity) error
	SaveTemplate(ctx context.Context, tmpl biometric.Template) error
	// SaveTemplateWithIdentity writes a new identity and its first template
	// together; either both are stored or neither is.
	SaveTemplateWithIdentity(ctx context.Context, identity biometric.Identity, tmpl biometric.Template) error
	LoadIdentities(ctx context.Context) ([]biometric.Identity, error)
	LoadTemplates(ctx context.Context) ([]biometric.Template, error)
}

// Stats summarises the store contents.
type Stats struct {
	Identities int `json:"identities"`
	Templates  int `json:"templates"`
	Dimension  int `json:"dimension"`
}

// Store is the template store. It is safe for concurrent use.
type Store struct {
	dimension int
	backend   Backend
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.RWMutex
	identities map[string]biometric.Identity
	order      []string
	// templates is append-only; a snapshot is a prefix of it.
	templates []biometric.Template
	byOwner   map[string][]int
	nextSeq   uint64
	entropy   *ulid.MonotonicEntropy
}

// New creates an empty store for embeddings of the given dimension.
func New(dimension int, backend Backend, logger *zap.Logger) (*Store, error) {
	if dimension <= 0 {
		return nil, biometric.NewValidationError("dimension", "must be positive, got %d", dimension)
	}
	if backend == nil {
		backend = NopBackend{}
	}
	return &Store{
		dimension:  dimension,
		backend:    backend,
		logger:     logger.Named("template_store"),
		now:        func() time.Time { return time.Now().UTC() },
		identities: make(map[string]biometric.Identity),
		byOwner:    make(map[string][]int),
		nextSeq:    1,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Dimension returns the configured embedding length.
func (s *Store) Dimension() int {
	return s.dimension
}

// Load replaces the index with the backend contents. Templates whose
// dimension disagrees with the store, or whose owner is unknown, are rejected.
func (s *Store) Load(ctx context.Context) error {
	identities, err := s.backend.LoadIdentities(ctx)
	if err != nil {
		return logging.NewOperationError("store.load_identities", "", err)
	}
	templates, err := s.backend.LoadTemplates(ctx)
	if err != nil {
		return logging.NewOperationError("store.load_templates", "", err)
	}

	byID := make(map[string]biometric.Identity, len(identities))
	order := make([]string, 0, len(identities))
	nextSeq := uint64(1)
	for _, identity := range identities {
		byID[identity.ID] = identity
		order = append(order, identity.ID)
		if identity.Seq >= nextSeq {
			nextSeq = identity.Seq + 1
		}
	}
	byOwner := make(map[string][]int, len(identities))
	for i, tmpl := range templates {
		if _, ok := byID[tmpl.IdentityID]; !ok {
			return fmt.Errorf("template %s references unknown identity %q", tmpl.ID, tmpl.IdentityID)
		}
		if err := tmpl.Embedding.Validate(s.dimension); err != nil {
			return fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
		byOwner[tmpl.IdentityID] = append(byOwner[tmpl.IdentityID], i)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = byID
	s.order = order
	s.templates = templates
	s.byOwner = byOwner
	s.nextSeq = nextSeq

	s.logger.Info("template store loaded",
		zap.Int("identities", len(s.identities)),
		zap.Int("templates", len(s.templates)),
	)
	return nil
}

// EnsureIdentity returns the identity with id, creating it on first use.
// An existing identity keeps its original display name.
func (s *Store) EnsureIdentity(ctx context.Context, id, displayName string) (biometric.Identity, error) {
	id, err := normalizeIdentityID(id)
	if err != nil {
		return biometric.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if identity, ok := s.identities[id]; ok {
		return identity, nil
	}
	identity := s.newIdentityLocked(id, displayName)
	if err := s.backend.SaveIdentity(ctx, identity); err != nil {
		return biometric.Identity{}, logging.NewOperationError("store.save_identity", "", err)
	}
	s.commitIdentityLocked(identity)
	return identity, nil
}

// newIdentityLocked builds the next identity without touching the index.
func (s *Store) newIdentityLocked(id, displayName string) biometric.Identity {
	if strings.TrimSpace(displayName) == "" {
		displayName = id
	}
	return biometric.Identity{
		ID:          id,
		DisplayName: displayName,
		CreatedAt:   s.now(),
		Seq:         s.nextSeq,
	}
}

func (s *Store) commitIdentityLocked(identity biometric.Identity) {
	s.identities[identity.ID] = identity
	s.order = append(s.order, identity.ID)
	s.nextSeq = identity.Seq + 1
	s.logger.Debug("identity created", zap.String("identity_id", identity.ID), zap.Uint64("seq", identity.Seq))
}

// AddTemplate validates and stores one embedding for identityID, creating
// the identity when needed. The call is atomic: on any error the store is
// unchanged, and a new identity is persisted together with its template.
func (s *Store) AddTemplate(ctx context.Context, identityID string, embedding biometric.Embedding) (biometric.Template, error) {
	identityID, err := normalizeIdentityID(identityID)
	if err != nil {
		return biometric.Template{}, err
	}
	if err := embedding.Validate(s.dimension); err != nil {
		return biometric.Template{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return biometric.Template{}, fmt.Errorf("generate template id: %w", err)
	}
	tmpl := biometric.Template{
		ID:         id.String(),
		IdentityID: identityID,
		Embedding:  embedding.Clone(),
		CapturedAt: now,
	}

	if _, ok := s.identities[identityID]; ok {
		if err := s.backend.SaveTemplate(ctx, tmpl); err != nil {
			return biometric.Template{}, logging.NewOperationError("store.save_template", "", err)
		}
	} else {
		identity := s.newIdentityLocked(identityID, "")
		if err := s.backend.SaveTemplateWithIdentity(ctx, identity, tmpl); err != nil {
			return biometric.Template{}, logging.NewOperationError("store.save_template", "", err)
		}
		s.commitIdentityLocked(identity)
	}
	s.appendLocked(tmpl)
	return cloneTemplate(tmpl), nil
}

func normalizeIdentityID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := biometric.ValidateIdentityID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) appendLocked(tmpl biometric.Template) {
	s.byOwner[tmpl.IdentityID] = append(s.byOwner[tmpl.IdentityID], len(s.templates))
	s.templates = append(s.templates, tmpl)
}

// GetIdentity returns a NotFoundError when id is unknown.
func (s *Store) GetIdentity(id string) (biometric.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return biometric.Identity{}, &biometric.NotFoundError{Kind: "identity", ID: id}
	}
	return identity, nil
}

// ListIdentities returns all identities in enrollment order.
func (s *Store) ListIdentities() []biometric.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]biometric.Identity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.identities[id])
	}
	return out
}

// ListTemplates returns the templates of identityID in capture order. An
// unknown identity yields an empty slice.
func (s *Store) ListTemplates(identityID string) []biometric.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	positions := s.byOwner[identityID]
	out := make([]biometric.Template, 0, len(positions))
	for _, pos := range positions {
		out = append(out, cloneTemplate(s.templates[pos]))
	}
	return out
}

// Snapshot is a read-consistent view of the store at one point in time.
type Snapshot struct {
	templates  []biometric.Template
	identities map[string]biometric.Identity
}

// Snapshot captures the current contents. Later writes do not affect it.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identities := make(map[string]biometric.Identity, len(s.identities))
	for id, identity := range s.identities {
		identities[id] = identity
	}
	return Snapshot{
		templates:  s.templates[:len(s.templates):len(s.templates)],
		identities: identities,
	}
}

// Len returns the number of templates in the snapshot.
func (sn Snapshot) Len() int {
	return len(sn.templates)
}

// Identity looks up an identity captured by the snapshot.
func (sn Snapshot) Identity(id string) (biometric.Identity, bool) {
	identity, ok := sn.identities[id]
	return identity, ok
}

// All yields (identity id, template) pairs in capture order. The sequence is
// finite and can be ranged over any number of times. Yielded embeddings are
// shared with the store and must not be modified.
func (sn Snapshot) All() iter.Seq2[string, biometric.Template] {
	return func(yield func(string, biometric.Template) bool) {
		for _, tmpl := range sn.templates {
			if !yield(tmpl.IdentityID, tmpl) {
				return
			}
		}
	}
}

// All is shorthand for s.Snapshot().All().
func (s *Store) All() iter.Seq2[string, biometric.Template] {
	return s.Snapshot().All()
}

// Stats returns identity and template counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Identities: len(s.identities),
		Templates:  len(s.templates),
		Dimension:  s.dimension,
	}
}

func cloneTemplate(t biometric.Template) biometric.Template {
	t.Embedding = t.Embedding.Clone()
	return t
}
