package credstore

import (
	"context"
	"fmt"
)

// RecordAuthAction appends one successful-authentication record for a
// user. The daemon treats this as fire-and-forget: a failed insert is
// logged, never surfaced to the client.
func (s *GORMStore) RecordAuthAction(ctx context.Context, userID uint32, ip string) error {
	action := &AuthAction{UserID: userID, IP: ip}
	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("credstore: record auth action: %w", err)
	}
	return nil
}

// AuthActions returns the recorded authentications for a user, newest
// first. Used by admin tooling and the web app's profile page.
func (s *GORMStore) AuthActions(ctx context.Context, userID uint32, limit int) ([]*AuthAction, error) {
	var actions []*AuthAction
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("credstore: list auth actions: %w", err)
	}
	return actions, nil
}
