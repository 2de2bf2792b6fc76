package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists tasks and approvals as JSON-encoded Redis strings and
// backs the per-task event journal with a Redis stream (XADD), giving
// subscribers a replayable, multi-reader log.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the
// client's lifecycle (construction, auth, Close).
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func taskRedisKey(workspaceID, taskID string) string {
	return fmt.Sprintf("broker:task:%s:%s", workspaceID, taskID)
}

func approvalRedisKey(workspaceID, approvalID string) string {
	return fmt.Sprintf("broker:approval:%s:%s", workspaceID, approvalID)
}

func pendingApprovalsSetKey(workspaceID, taskID string) string {
	return fmt.Sprintf("broker:task-pending-approvals:%s:%s", workspaceID, taskID)
}

func eventStreamKey(workspaceID, taskID string) string {
	return fmt.Sprintf("broker:task-events:%s:%s", workspaceID, taskID)
}

func (s *RedisStore) CreateTask(ctx context.Context, t *Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("task: marshal task: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, taskRedisKey(t.WorkspaceID, t.TaskID), body, 0).Result()
	if err != nil {
		return fmt.Errorf("task: create task: %w", err)
	}
	if !ok {
		return fmt.Errorf("task: %s already exists", t.TaskID)
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, workspaceID, taskID string) (*Task, error) {
	raw, err := s.rdb.Get(ctx, taskRedisKey(workspaceID, taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task: get task: %w", err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("task: unmarshal task: %w", err)
	}
	return &t, nil
}

// UpdateTask is not linearizable across concurrent callers for the same
// task; the lifecycle guarantees only one writer ever touches a given task
// (the task's own executor), so a WATCH/MULTI transaction is unnecessary
// here and would add latency to every transition with no safety benefit.
func (s *RedisStore) UpdateTask(ctx context.Context, workspaceID, taskID string, mutate func(*Task) error) (*Task, error) {
	t, err := s.GetTask(ctx, workspaceID, taskID)
	if err != nil {
		return nil, err
	}
	if err := mutate(t); err != nil {
		return nil, err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("task: marshal task: %w", err)
	}
	if err := s.rdb.Set(ctx, taskRedisKey(workspaceID, taskID), body, 0).Err(); err != nil {
		return nil, fmt.Errorf("task: persist task update: %w", err)
	}
	return t, nil
}

func (s *RedisStore) CreateApproval(ctx context.Context, a *Approval) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("task: marshal approval: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, approvalRedisKey(a.WorkspaceID, a.ApprovalID), body, 0).Result()
	if err != nil {
		return fmt.Errorf("task: create approval: %w", err)
	}
	if !ok {
		return fmt.Errorf("task: approval %s already exists", a.ApprovalID)
	}
	if err := s.rdb.SAdd(ctx, pendingApprovalsSetKey(a.WorkspaceID, a.TaskID), a.ApprovalID).Err(); err != nil {
		return fmt.Errorf("task: index pending approval: %w", err)
	}
	return nil
}

func (s *RedisStore) GetApproval(ctx context.Context, workspaceID, approvalID string) (*Approval, error) {
	raw, err := s.rdb.Get(ctx, approvalRedisKey(workspaceID, approvalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task: get approval: %w", err)
	}
	var a Approval
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("task: unmarshal approval: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) ResolveApproval(ctx context.Context, workspaceID, approvalID string, status ApprovalStatus, reviewerID, reason string) (*Approval, error) {
	a, err := s.GetApproval(ctx, workspaceID, approvalID)
	if err != nil {
		return nil, err
	}
	if err := a.Resolve(status, reviewerID, reason, nowUTC()); err != nil {
		return nil, err
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("task: marshal approval: %w", err)
	}
	if err := s.rdb.Set(ctx, approvalRedisKey(workspaceID, approvalID), body, 0).Err(); err != nil {
		return nil, fmt.Errorf("task: persist approval resolution: %w", err)
	}
	if err := s.rdb.SRem(ctx, pendingApprovalsSetKey(workspaceID, a.TaskID), approvalID).Err(); err != nil {
		return nil, fmt.Errorf("task: unindex resolved approval: %w", err)
	}
	return a, nil
}

func (s *RedisStore) ListPendingApprovals(ctx context.Context, workspaceID, taskID string) ([]*Approval, error) {
	ids, err := s.rdb.SMembers(ctx, pendingApprovalsSetKey(workspaceID, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("task: list pending approval ids: %w", err)
	}
	out := make([]*Approval, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetApproval(ctx, workspaceID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if a.Status == ApprovalPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, workspaceID string, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("task: marshal event payload: %w", err)
	}
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStreamKey(workspaceID, e.TaskID),
		ID:     "*",
		Values: map[string]any{
			"id":         e.ID,
			"event_name": e.EventName,
			"payload":    payload,
			"created_at": e.CreatedAt.UnixNano(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("task: append event: %w", err)
	}
	return nil
}

// ListEventsAfter scans the full journal and filters client-side on our own
// Event.ID rather than the Redis-assigned stream entry ID: afterID is the
// ID minted when the event was created, which predates the XADD call and
// so cannot be used as the stream's exclusive-range start.
func (s *RedisStore) ListEventsAfter(ctx context.Context, workspaceID, taskID, afterID string) ([]Event, error) {
	msgs, err := s.rdb.XRange(ctx, eventStreamKey(workspaceID, taskID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("task: list events: %w", err)
	}
	all := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		e, err := eventFromStreamValues(taskID, m.Values)
		if err != nil {
			return nil, err
		}
		all = append(all, e)
	}
	if afterID == "" {
		return all, nil
	}
	for i, e := range all {
		if e.ID == afterID {
			return all[i+1:], nil
		}
	}
	return all, nil
}

func eventFromStreamValues(taskID string, values map[string]any) (Event, error) {
	e := Event{TaskID: taskID}
	if v, ok := values["id"].(string); ok {
		e.ID = v
	}
	if v, ok := values["event_name"].(string); ok {
		e.EventName = v
	}
	if v, ok := values["payload"].(string); ok {
		if err := json.Unmarshal([]byte(v), &e.Payload); err != nil {
			return Event{}, fmt.Errorf("task: unmarshal event payload: %w", err)
		}
	}
	return e, nil
}
