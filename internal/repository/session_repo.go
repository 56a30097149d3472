package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resellerpay/internal/model"

	"github.com/go-redis/redis/v8"
)

var (
	ErrActionPending   = errors.New("another action is already awaiting verification")
	ErrNoPendingAction = errors.New("no action awaiting verification")
)

// SessionStore keeps per-session verification state in Redis so every
// instance behind the load balancer sees the same gate.
//
//	verify:session:{sid}           present while the login session is live
//	verify:session:{sid}:employee  verified employee code
//	verify:session:{sid}:pending   parked PendingAction as JSON
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func liveKey(sessionID string) string {
	return fmt.Sprintf("verify:session:%s", sessionID)
}

func employeeKey(sessionID string) string {
	return fmt.Sprintf("verify:session:%s:employee", sessionID)
}

func pendingKey(sessionID string) string {
	return fmt.Sprintf("verify:session:%s:pending", sessionID)
}

// Open marks a login session live for ttl.
func (s *SessionStore) Open(ctx context.Context, sessionID string, principalID int64, ttl time.Duration) error {
	return s.client.Set(ctx, liveKey(sessionID), principalID, ttl).Err()
}

// IsOpen reports whether the session was opened and not yet cleared.
func (s *SessionStore) IsOpen(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, liveKey(sessionID)).Result()
	return n == 1, err
}

// Load returns the full verification state of a session. A session Redis
// has never seen is simply unverified with nothing pending.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (model.VerificationSession, error) {
	sess := model.VerificationSession{SessionID: sessionID}

	employee, err := s.VerifiedEmployee(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	sess.VerifiedEmployeeID = employee

	action, err := s.PendingAction(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	sess.PendingAction = action
	return sess, nil
}

// SetVerified records the employee that verified this session. A zero ttl
// keeps the mark until Clear.
func (s *SessionStore) SetVerified(ctx context.Context, sessionID, employeeID string, ttl time.Duration) error {
	return s.client.Set(ctx, employeeKey(sessionID), employeeID, ttl).Err()
}

func (s *SessionStore) VerifiedEmployee(ctx context.Context, sessionID string) (string, error) {
	v, err := s.client.Get(ctx, employeeKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// ParkAction stores action as the session's single pending action. It fails
// with ErrActionPending when one is already parked.
func (s *SessionStore) ParkAction(ctx context.Context, sessionID string, action *model.PendingAction, ttl time.Duration) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode pending action: %w", err)
	}
	ok, err := s.client.SetNX(ctx, pendingKey(sessionID), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrActionPending
	}
	return nil
}

// PendingAction returns the parked action without removing it, or nil.
func (s *SessionStore) PendingAction(ctx context.Context, sessionID string) (*model.PendingAction, error) {
	data, err := s.client.Get(ctx, pendingKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAction(data)
}

// ClaimAction atomically removes and returns the parked action, so a
// verification replayed twice resumes the action at most once.
func (s *SessionStore) ClaimAction(ctx context.Context, sessionID string) (*model.PendingAction, error) {
	data, err := s.client.GetDel(ctx, pendingKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoPendingAction
	}
	if err != nil {
		return nil, err
	}
	return decodeAction(data)
}

// DropAction discards the parked action and reports whether one existed.
func (s *SessionStore) DropAction(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Del(ctx, pendingKey(sessionID)).Result()
	return n > 0, err
}

// Clear forgets everything about the session, ending it.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, liveKey(sessionID), employeeKey(sessionID), pendingKey(sessionID)).Err()
}

func decodeAction(data []byte) (*model.PendingAction, error) {
	var action model.PendingAction
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, fmt.Errorf("decode pending action: %w", err)
	}
	return &action, nil
}
