package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/zpoken/zkv-attestation-relay/types"
)

type Stage string

const (
	StageProving       Stage = "proving"
	StageSubmitting    Stage = "submitting"
	StageFetchingProof Stage = "fetching_proof"
	StageBridging      Stage = "bridging"
	StageComplete      Stage = "complete"
	StageFailed        Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Request carries the private factors of one relay run.
type Request struct {
	A uint64 `json:"a" binding:"required"`
	B uint64 `json:"b" binding:"required"`
}

// Session is the context of one proof's journey from generation to the
// consumer chain's acknowledgment.
type Session struct {
	ID             string                      `json:"id"`
	Stage          Stage                       `json:"stage"`
	Checkpoints    []types.Checkpoint          `json:"checkpoints"`
	Record         *types.AttestationRecord    `json:"record,omitempty"`
	InclusionProof *types.MerkleInclusionProof `json:"inclusionProof,omitempty"`
	BridgeState    string                      `json:"bridgeState,omitempty"`
	PostedRoot     *common.Hash                `json:"postedRoot,omitempty"`
	ProofTx        *common.Hash                `json:"proofTx,omitempty"`
	AckTx          *common.Hash                `json:"ackTx,omitempty"`
	Error          string                      `json:"error,omitempty"`
	CreatedAt      time.Time                   `json:"createdAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`

	// Err is the first fatal error of the session.
	Err error `json:"-"`
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Stage:     StageProving,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// snapshot returns a copy that shares no mutable state with s.
func (s *Session) snapshot() Session {
	out := *s
	out.Checkpoints = append([]types.Checkpoint(nil), s.Checkpoints...)
	return out
}

const (
	DefaultRetention   = 24 * time.Hour
	DefaultMaxFinished = 1000
)

// Registry keeps the latest snapshot of every session for read-only access.
// Finished sessions are dropped once older than the retention window, and the
// oldest are dropped first when more than maxFinished are kept. Running
// sessions are never dropped.
type Registry struct {
	retention   time.Duration
	maxFinished int
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

type RegistryOption func(*Registry)

// WithRetention sets how long finished sessions stay visible. Zero keeps them
// until the cap is reached.
func WithRetention(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.retention = d
	}
}

// WithMaxFinished caps the number of finished sessions kept. Zero disables
// the cap.
func WithMaxFinished(n int) RegistryOption {
	return func(r *Registry) {
		r.maxFinished = n
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		retention:   DefaultRetention,
		maxFinished: DefaultMaxFinished,
		now:         time.Now,
		sessions:    map[string]Session{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) put(s *Session) {
	if r == nil {
		return
	}
	snap := s.snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = snap
	if snap.Stage.Terminal() {
		r.prune()
	}
}

// prune drops expired finished sessions, then the oldest finished ones above
// the cap. Callers hold the write lock.
func (r *Registry) prune() {
	var finished []Session
	for id, s := range r.sessions {
		if !s.Stage.Terminal() {
			continue
		}
		if r.retention > 0 && r.now().Sub(s.UpdatedAt) > r.retention {
			delete(r.sessions, id)
			continue
		}
		finished = append(finished, s)
	}
	if r.maxFinished <= 0 || len(finished) <= r.maxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].UpdatedAt.Before(finished[j].UpdatedAt) })
	for _, s := range finished[:len(finished)-r.maxFinished] {
		delete(r.sessions, s.ID)
	}
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
