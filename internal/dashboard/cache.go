// Package dashboard owns the state behind the screening and enrollment
// views: the in-memory assessment cache, patient filtering and the
// orchestration of load, assess and prescreen actions.
package dashboard

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trial-eligibility/internal/model"
	"github.com/sells-group/trial-eligibility/internal/trials"
)

// CachedAssessment is an assessment as the dashboard sees it, keyed by the
// catalog trial id rather than the protocol id.
type CachedAssessment struct {
	SessionID  string                  `json:"session_id"`
	TrialID    string                  `json:"trial_id"`
	Result     string                  `json:"result"`
	Score      float64                 `json:"score"`
	Status     model.EligibilityStatus `json:"status"`
	AssessedAt time.Time               `json:"assessed_at"`
}

type cacheKey struct {
	sessionID string
	trialID   string
}

// AssessmentCache holds the latest assessment per (session, trial). It is
// safe for concurrent use.
type AssessmentCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]CachedAssessment
}

// NewAssessmentCache returns an empty cache.
func NewAssessmentCache() *AssessmentCache {
	return &AssessmentCache{entries: make(map[cacheKey]CachedAssessment)}
}

// Populate replaces the cache contents with records read from the store.
// Records whose protocol is not in the catalog are skipped. It returns the
// number of entries loaded.
func (c *AssessmentCache) Populate(records []model.AssessmentRecord, catalog *trials.Catalog) int {
	entries := make(map[cacheKey]CachedAssessment, len(records))
	for _, rec := range records {
		trialID, ok := catalog.TrialIDForProtocol(rec.TrialProtocolID)
		if !ok {
			zap.L().Warn("dashboard: no trial for cached assessment",
				zap.String("protocol_id", rec.TrialProtocolID),
				zap.String("session_id", rec.PatientSessionID),
			)
			continue
		}
		key := cacheKey{rec.PatientSessionID, trialID}
		if prev, ok := entries[key]; ok && prev.AssessedAt.After(rec.AssessedAt) {
			continue
		}
		entries[key] = CachedAssessment{
			SessionID:  rec.PatientSessionID,
			TrialID:    trialID,
			Result:     rec.AssessmentResult,
			Score:      rec.Score(),
			Status:     rec.EligibilityStatus,
			AssessedAt: rec.AssessedAt,
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return len(entries)
}

// Put stores or replaces one entry.
func (c *AssessmentCache) Put(a CachedAssessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{a.SessionID, a.TrialID}] = a
}

// Get returns the entry for a session and trial.
func (c *AssessmentCache) Get(sessionID, trialID string) (CachedAssessment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[cacheKey{sessionID, trialID}]
	return a, ok
}

// Score returns the cached score, or nil when the pair is unassessed.
func (c *AssessmentCache) Score(sessionID, trialID string) *float64 {
	a, ok := c.Get(sessionID, trialID)
	if !ok {
		return nil
	}
	s := a.Score
	return &s
}

// Len returns the number of cached entries.
func (c *AssessmentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
