package mock

import (
	"context"

	"github.com/kontoapp/konto/user"
)

type ActivityStore struct {
	AddLogFn func(ctx context.Context, userId int64, activity user.Activity) error

	ByUserIdFn func(ctx context.Context, userId int64) ([]user.ActivityLog, error)
}

func (s ActivityStore) AddLog(ctx context.Context, userId int64, activity user.Activity) error {
	return s.AddLogFn(ctx, userId, activity)
}

func (s ActivityStore) ByUserId(ctx context.Context, userId int64) ([]user.ActivityLog, error) {
	return s.ByUserIdFn(ctx, userId)
}
