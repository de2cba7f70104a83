package engine

import (
	"context"
	"database/sql"

	"queueline/internal/domain"
	"queueline/internal/engine/auth"
	"queueline/internal/events"
)

var distributionReaders = []auth.Role{auth.RoleAdmin, auth.RoleBusinessAdmin, auth.RoleTaskAdmin}

// authorizeDistribution checks the right to change the outgoing edges of
// source: an administrative role or distribute on the source itself.
func (e Engine) authorizeDistribution(ctx context.Context, tx *sql.Tx, id auth.Identity, sourceID string) error {
	if err := requireID("source workbasket id", sourceID); err != nil {
		return err
	}
	if err := e.authorize(ctx, tx, id, sourceID, domain.PermDistribute, workbasketAdmins...); err != nil {
		return err
	}
	ok, err := e.Repo.WorkbasketExists(ctx, tx, sourceID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFoundError{Kind: domain.KindWorkbasket, ID: sourceID}
	}
	return nil
}

// AddDistributionTarget lets source push tasks into target. Adding an existing
// edge is a no-op.
func (e Engine) AddDistributionTarget(ctx context.Context, id auth.Identity, sourceID, targetID string) error {
	if err := requireID("target workbasket id", targetID); err != nil {
		return err
	}
	if sourceID == targetID {
		return InvalidArgumentError{Field: "target workbasket id", Reason: "a workbasket cannot distribute to itself"}
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.authorizeDistribution(ctx, tx, id, sourceID); err != nil {
		return err
	}
	ok, err := e.Repo.WorkbasketExists(ctx, tx, targetID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFoundError{Kind: domain.KindWorkbasket, ID: targetID}
	}
	if err := e.Repo.InsertEdge(ctx, tx, sourceID, targetID); err != nil {
		return err
	}
	if err := ev.Append(ctx, tx, events.DistributionChanged, domain.KindWorkbasket, sourceID, id.Name(), events.EventPayload{"added": targetID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveDistributionTarget drops source -> target. Removing an edge that does
// not exist, or one towards an unknown target, is a no-op.
func (e Engine) RemoveDistributionTarget(ctx context.Context, id auth.Identity, sourceID, targetID string) error {
	if err := requireID("target workbasket id", targetID); err != nil {
		return err
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.authorizeDistribution(ctx, tx, id, sourceID); err != nil {
		return err
	}
	removed, err := e.Repo.DeleteEdge(ctx, tx, sourceID, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := ev.Append(ctx, tx, events.DistributionChanged, domain.KindWorkbasket, sourceID, id.Name(), events.EventPayload{"removed": targetID}); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDistributionTargets replaces every outgoing edge of source. The whole
// target list is validated before anything changes.
func (e Engine) SetDistributionTargets(ctx context.Context, id auth.Identity, sourceID string, targetIDs []string) error {
	seen := map[string]bool{}
	targets := make([]string, 0, len(targetIDs))
	for _, t := range targetIDs {
		if err := requireID("target workbasket id", t); err != nil {
			return err
		}
		if t == sourceID {
			return InvalidArgumentError{Field: "target workbasket id", Reason: "a workbasket cannot distribute to itself"}
		}
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	tx, ev, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.authorizeDistribution(ctx, tx, id, sourceID); err != nil {
		return err
	}
	for _, t := range targets {
		ok, err := e.Repo.WorkbasketExists(ctx, tx, t)
		if err != nil {
			return err
		}
		if !ok {
			return NotFoundError{Kind: domain.KindWorkbasket, ID: t}
		}
	}
	if err := e.Repo.DeleteEdgesFrom(ctx, tx, sourceID); err != nil {
		return err
	}
	for _, t := range targets {
		if err := e.Repo.InsertEdge(ctx, tx, sourceID, t); err != nil {
			return err
		}
	}
	if err := ev.Append(ctx, tx, events.DistributionChanged, domain.KindWorkbasket, sourceID, id.Name(), events.EventPayload{"targets": targets}); err != nil {
		return err
	}
	return tx.Commit()
}

// readDistribution checks existence first, then read access on the basket.
func (e Engine) readDistribution(ctx context.Context, id auth.Identity, workbasketID string) error {
	if err := requireID("workbasket id", workbasketID); err != nil {
		return err
	}
	ok, err := e.Repo.WorkbasketExists(ctx, e.DB, workbasketID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFoundError{Kind: domain.KindWorkbasket, ID: workbasketID}
	}
	return e.authorize(ctx, e.DB, id, workbasketID, domain.PermRead, distributionReaders...)
}

// GetDistributionTargets lists the workbaskets source may push tasks into.
func (e Engine) GetDistributionTargets(ctx context.Context, id auth.Identity, sourceID string) ([]domain.Workbasket, error) {
	if err := e.readDistribution(ctx, id, sourceID); err != nil {
		return nil, err
	}
	return e.Repo.TargetsOf(ctx, e.DB, sourceID)
}

// GetDistributionSources lists the workbaskets that may push tasks into target.
func (e Engine) GetDistributionSources(ctx context.Context, id auth.Identity, targetID string) ([]domain.Workbasket, error) {
	if err := e.readDistribution(ctx, id, targetID); err != nil {
		return nil, err
	}
	return e.Repo.SourcesOf(ctx, e.DB, targetID)
}

// ResolveWorkbasketID maps key and domain to an id for callers addressing
// workbaskets by key.
func (e Engine) ResolveWorkbasketID(ctx context.Context, key, dom string) (string, error) {
	w, err := e.Repo.GetWorkbasketByKey(ctx, e.DB, key, dom)
	if err != nil {
		return "", notFound(err, domain.KindWorkbasket, key+"/"+dom)
	}
	return w.ID, nil
}
