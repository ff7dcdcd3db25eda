// Package auth decides which Telegram users may book through the bot.
package auth

import (
	"fmt"
	"sort"
	"sync"
)

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
	Remove(userID int64) error
}

// Service keeps the allow-list and the queue of users waiting for admin approval.
// An empty allow-list with no admin configured lets everyone in.
type Service struct {
	mu          sync.Mutex
	allowed     map[int64]User
	pending     map[int64]User
	allowedRepo Repository
	pendingRepo Repository
	open        bool
}

// New merges the persisted lists with the IDs from the environment. Either repository
// may be nil.
func New(allowedRepo, pendingRepo Repository, initial []int64, adminID int64) (*Service, error) {
	s := &Service{
		allowed:     make(map[int64]User),
		pending:     make(map[int64]User),
		allowedRepo: allowedRepo,
		pendingRepo: pendingRepo,
	}
	if err := load(allowedRepo, s.allowed); err != nil {
		return nil, fmt.Errorf("load allowed users: %w", err)
	}
	if err := load(pendingRepo, s.pending); err != nil {
		return nil, fmt.Errorf("load pending users: %w", err)
	}
	for _, id := range initial {
		if _, ok := s.allowed[id]; !ok {
			s.allowed[id] = User{ID: id}
		}
	}
	if adminID != 0 {
		s.allowed[adminID] = User{ID: adminID}
	}
	s.open = len(s.allowed) == 0
	return s, nil
}

func load(repo Repository, into map[int64]User) error {
	if repo == nil {
		return nil
	}
	users, err := repo.LoadAll()
	if err != nil {
		return err
	}
	for _, u := range users {
		into[u.ID] = u
	}
	return nil
}

func (s *Service) IsAllowed(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return true
	}
	_, ok := s.allowed[userID]
	return ok
}

// Request queues u for approval. It reports false when u was already waiting.
func (s *Service) Request(u User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[u.ID]; ok {
		return false, nil
	}
	s.pending[u.ID] = u
	if s.pendingRepo != nil {
		if err := s.pendingRepo.Upsert(u); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Approve moves a pending user to the allow-list. Unknown IDs are allowed as bare IDs.
func (s *Service) Approve(userID int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.pending[userID]
	if !ok {
		u = User{ID: userID}
	}
	delete(s.pending, userID)
	s.allowed[userID] = u
	s.open = false
	if s.pendingRepo != nil {
		if err := s.pendingRepo.Remove(userID); err != nil {
			return u, err
		}
	}
	if s.allowedRepo != nil {
		if err := s.allowedRepo.Upsert(u); err != nil {
			return u, err
		}
	}
	return u, nil
}

// Deny drops a pending request.
func (s *Service) Deny(userID int64) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.pending[userID]
	if !ok {
		return User{}, false, nil
	}
	delete(s.pending, userID)
	if s.pendingRepo != nil {
		return u, true, s.pendingRepo.Remove(userID)
	}
	return u, true, nil
}

func (s *Service) Remove(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowed, userID)
	if s.allowedRepo != nil {
		return s.allowedRepo.Remove(userID)
	}
	return nil
}

// List returns allowed users ordered by ID.
func (s *Service) List() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.allowed)
}

func (s *Service) Pending() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.pending)
}

func sorted(m map[int64]User) []User {
	out := make([]User, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
