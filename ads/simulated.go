package ads

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Simulated fabricates object ids without calling the platform. It is
// used in the simulated write mode.
type Simulated struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) id(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("sim_%s_%s", kind, uuid.NewString()[:8])
	s.created = append(s.created, id)
	return id
}

func (s *Simulated) CreateCampaign(context.Context, string, CampaignSpec) (string, error) {
	return s.id("campaign"), nil
}

func (s *Simulated) CreateAdSet(context.Context, string, AdSetSpec) (string, error) {
	return s.id("adset"), nil
}

func (s *Simulated) CreateCreative(context.Context, string, CreativeSpec) (string, error) {
	return s.id("creative"), nil
}

func (s *Simulated) CreateAd(context.Context, string, AdSpec) (string, error) {
	return s.id("ad"), nil
}

func (s *Simulated) Delete(_ context.Context, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, objectID)
	return nil
}

func (s *Simulated) GetAccount(_ context.Context, accountID string) (*Account, error) {
	return &Account{ID: AccountPath(accountID), Name: "Simulated account", Currency: "SEK", Status: 1}, nil
}

// Created returns the ids fabricated so far.
func (s *Simulated) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// Deleted returns the ids passed to Delete so far.
func (s *Simulated) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}
