package onboarding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"offbeat/internal/ports"
)

// ErrNotConfigured is returned when the service was built without an account port.
var ErrNotConfigured = errors.New("onboarding service not configured")

var (
	adjectives = []string{"Happy", "Shiny", "Brave", "Clever", "Swift", "Calm", "Mighty", "Witty", "Sly", "Wild"}
	nouns      = []string{"Panda", "Tiger", "Eagle", "Dolphin", "Wolf", "Otter", "Falcon", "Bear", "Fox", "Lion"}
)

// Result captures non-fatal onboarding outcomes.
type Result struct {
	// DisplayName is the name assigned to the account.
	DisplayName string
	// ProfileUpdateErr is set when the profile update failed but onboarding continued.
	ProfileUpdateErr error
}

// Service names freshly created anonymous accounts so lobbies never show a blank player.
type Service struct {
	accounts ports.AccountPort

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService constructs an onboarding service. rng may be nil to use a time-seeded default.
func NewService(accounts ports.AccountPort, rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{accounts: accounts, rng: rng}
}

// OnboardNewUser assigns a friendly display name to userID unless the account
// already has one. A failed profile update is reported in Result and does not
// fail onboarding.
func (s *Service) OnboardNewUser(ctx context.Context, userID string) (Result, error) {
	if s.accounts == nil {
		return Result{}, ErrNotConfigured
	}
	if userID == "" {
		return Result{}, fmt.Errorf("onboard: empty user id")
	}

	if existing, err := s.accounts.DisplayName(ctx, userID); err == nil && existing != "" {
		return Result{DisplayName: existing}, nil
	}

	name := s.FriendlyName()
	result := Result{DisplayName: name}
	if err := s.accounts.UpdateProfile(ctx, userID, name, name); err != nil {
		result.ProfileUpdateErr = err
	}
	return result, nil
}

// FriendlyName returns a name of the form <Adjective><Noun><4 digits>.
func (s *Service) FriendlyName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	adj := adjectives[s.rng.Intn(len(adjectives))]
	noun := nouns[s.rng.Intn(len(nouns))]
	num := s.rng.Intn(9000) + 1000
	return fmt.Sprintf("%s%s%d", adj, noun, num)
}
