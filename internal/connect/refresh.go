// refresh.go -- Token refresh.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/store"
)

// Refresh redeems the stored refresh token for (providerID, userID) and replaces the
// record. userID "" selects the provider's first record.
//
// ErrNoRefreshToken leaves the store untouched. A RefreshRejectedError is terminal:
// the stale record is removed so the provider reads as not connected and the same
// refresh token is never presented again. Concurrent calls for one key share a
// single backend request.
func (e *Engine) Refresh(ctx context.Context, providerID, userID string) (*store.TokenRecord, error) {
	id, err := e.canonical(providerID)
	if err != nil {
		return nil, err
	}

	key := store.ScopeFromContext(ctx) + "\x00" + id + "\x00" + userID
	v, err, _ := e.refreshes.Do(key, func() (any, error) {
		return e.refresh(ctx, id, userID)
	})
	if err != nil {
		return nil, err
	}
	rec := *v.(*store.TokenRecord)
	return &rec, nil
}

func (e *Engine) refresh(ctx context.Context, id, userID string) (*store.TokenRecord, error) {
	cur, err := e.tokens.Get(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("loading token for refresh: %w", err)
	}
	if !cur.HasRefreshToken() {
		e.metrics.Refresh(id, metrics.ResultSkipped)
		return nil, oauth.ErrNoRefreshToken
	}

	svc := e.serviceFor(id)
	next, err := svc.Refresh(ctx, id, cur.UserID, cur.RefreshToken)
	if err != nil {
		if oauth.IsTerminal(err) {
			e.metrics.Refresh(id, metrics.ResultRejected)
			if rerr := e.tokens.Remove(ctx, id, cur.UserID); rerr != nil {
				return nil, errors.Join(err, fmt.Errorf("removing rejected token: %w", rerr))
			}
			slog.Warn("refresh rejected, connection removed", "provider", id, "user_id", cur.UserID, "error", err)
			return nil, err
		}
		e.metrics.Refresh(id, metrics.ResultError)
		return nil, err
	}

	// Replace, never merge: the new record stands on its own.
	if err := e.tokens.Put(ctx, id, cur.UserID, *next, nil); err != nil {
		return nil, fmt.Errorf("storing refreshed token: %w", err)
	}
	e.metrics.Refresh(id, metrics.ResultOK)

	stored, err := e.tokens.Get(ctx, id, cur.UserID)
	if err != nil {
		return nil, fmt.Errorf("reading refreshed token: %w", err)
	}
	e.refreshProfile(ctx, svc, id, *stored)
	slog.Info("token refreshed", "provider", id, "user_id", cur.UserID)
	return stored, nil
}
