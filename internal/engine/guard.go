package engine

import (
	"time"

	"queueline/internal/domain"
)

// nextStamp returns the modified stamp for a write following prev. Stamps are
// strictly increasing per entity even when the clock stands still, so two
// writes never share a version.
func (e Engine) nextStamp(prev string) string {
	now := e.now().UTC()
	if prev != "" {
		if p, err := domain.ParseTime(prev); err == nil && !now.After(p) {
			now = p.Add(time.Nanosecond)
		}
	}
	return domain.FormatTime(now)
}

// checkModified compares the stamp presented by the caller with the stored one.
// Stamps are opaque and compared for equality only.
func checkModified(kind, id, presented, stored string) error {
	if presented == "" {
		return InvalidArgumentError{Field: "modified", Reason: "the last read modified stamp is required"}
	}
	if presented != stored {
		return ConcurrencyError{Kind: kind, ID: id, Expected: presented, Actual: stored}
	}
	return nil
}
