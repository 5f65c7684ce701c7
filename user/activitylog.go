package user

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Activity is a single account event worth keeping (login, logout, password
// change, account delete).
type Activity struct {
	Name string
	Data map[string]interface{}
}

type ActivityLog struct {
	bun.BaseModel `bun:"table:account_activity"`

	Id        int64                  `bun:",pk,autoincrement"`
	CreatedAt time.Time              `bun:",nullzero,notnull,default:current_timestamp"`
	UserId    int64                  `bun:",notnull"`
	Name      string                 `bun:",notnull"`
	Data      map[string]interface{} `bun:",notnull,json_use_number"`
}

type ActivityStore interface {
	AddLog(ctx context.Context, userId int64, activity Activity) error

	ByUserId(ctx context.Context, userId int64) ([]ActivityLog, error)
}

type PgActivityStore struct {
	DB *bun.DB
}

func (s *PgActivityStore) AddLog(ctx context.Context, userId int64, activity Activity) error {
	log := &ActivityLog{
		UserId: userId,
		Name:   activity.Name,
		Data:   activity.Data,
	}
	if log.Data == nil {
		log.Data = map[string]interface{}{}
	}
	_, err := s.DB.NewInsert().
		Model(log).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (s *PgActivityStore) ByUserId(ctx context.Context, userId int64) ([]ActivityLog, error) {
	var logs []ActivityLog
	err := s.DB.NewSelect().
		Model(&logs).
		Where("user_id=?", userId).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select activity logs: %w", err)
	}
	return logs, nil
}
