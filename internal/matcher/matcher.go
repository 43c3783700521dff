// Package matcher finds the enrolled identity closest to a probe embedding.
package matcher

import (
	"sort"
	"time"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/store"
)

// Source provides read-consistent snapshots of enrolled templates.
type Source interface {
	Snapshot() store.Snapshot
	Dimension() int
}

// Matcher scores probes against every stored template by cosine similarity.
type Matcher struct {
	source Source
	now    func() time.Time
}

// New creates a matcher over source.
func New(source Source) *Matcher {
	return &Matcher{source: source, now: func() time.Time { return time.Now().UTC() }}
}

// Match returns the best-scoring identity. The probe matches when that score
// is at least threshold; otherwise the result is "no match" carrying the best
// score for diagnostics. An empty store yields no match with score 0. When two
// identities share the maximum score, the one enrolled first wins.
func (m *Matcher) Match(probe biometric.Embedding, threshold float64) (biometric.MatchResult, error) {
	if err := probe.Validate(m.source.Dimension()); err != nil {
		return biometric.MatchResult{}, err
	}
	if err := biometric.ValidateThreshold(threshold); err != nil {
		return biometric.MatchResult{}, err
	}

	result := biometric.MatchResult{ProbedAt: m.now(), Threshold: threshold}
	snap := m.source.Snapshot()

	var (
		found   bool
		bestSeq uint64
	)
	for identityID, tmpl := range snap.All() {
		score := biometric.CosineSimilarity(probe, tmpl.Embedding)
		seq := seqOf(snap, identityID)
		if !found || score > result.Score || (score == result.Score && seq < bestSeq) {
			found = true
			result.Score = score
			result.BestIdentityID = identityID
			bestSeq = seq
		}
	}

	if found && result.Score >= threshold {
		result.Matched = true
		result.IdentityID = result.BestIdentityID
	}
	return result, nil
}

// TopK ranks identities by their best template score, highest first, with
// the same tie-break as Match. k <= 0 returns every identity.
func (m *Matcher) TopK(probe biometric.Embedding, k int) ([]biometric.Candidate, error) {
	if err := probe.Validate(m.source.Dimension()); err != nil {
		return nil, err
	}

	snap := m.source.Snapshot()
	best := make(map[string]float64)
	for identityID, tmpl := range snap.All() {
		score := biometric.CosineSimilarity(probe, tmpl.Embedding)
		if current, ok := best[identityID]; !ok || score > current {
			best[identityID] = score
		}
	}

	candidates := make([]biometric.Candidate, 0, len(best))
	for id, score := range best {
		candidates = append(candidates, biometric.Candidate{IdentityID: id, Score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return seqOf(snap, candidates[i].IdentityID) < seqOf(snap, candidates[j].IdentityID)
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func seqOf(snap store.Snapshot, identityID string) uint64 {
	identity, _ := snap.Identity(identityID)
	return identity.Seq
}
