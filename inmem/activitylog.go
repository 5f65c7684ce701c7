package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/kontoapp/konto/user"
)

type ActivityStore struct {
	lastId int64
	logs   map[int64][]user.ActivityLog
	mutex  sync.RWMutex
}

func NewActivityStore() ActivityStore {
	return ActivityStore{
		lastId: 0,
		logs:   make(map[int64][]user.ActivityLog),
		mutex:  sync.RWMutex{},
	}
}

func (s *ActivityStore) AddLog(ctx context.Context, userId int64, activity user.Activity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ulogs, ok := s.logs[userId]
	if !ok {
		ulogs = make([]user.ActivityLog, 0, 10)
	}
	s.lastId++
	ulogs = append(ulogs, user.ActivityLog{
		Id:        s.lastId,
		CreatedAt: time.Now(),
		UserId:    userId,
		Name:      activity.Name,
		Data:      activity.Data,
	})
	s.logs[userId] = ulogs
	return nil
}

func (s *ActivityStore) ByUserId(ctx context.Context, userId int64) ([]user.ActivityLog, error) {
	s.mutex.RLock()
	logs, ok := s.logs[userId]
	s.mutex.RUnlock()
	if ok {
		return logs, nil
	} else {
		return []user.ActivityLog{}, nil
	}
}
