package onboarding

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"testing"
)

type fakeAccountPort struct {
	updateErr   error
	displayName string
	lookupErr   error
	calls       []profileCall
}

type profileCall struct {
	userID, username, displayName string
}

func (f *fakeAccountPort) UpdateProfile(ctx context.Context, userID, username, displayName string) error {
	f.calls = append(f.calls, profileCall{userID, username, displayName})
	return f.updateErr
}

func (f *fakeAccountPort) DisplayName(ctx context.Context, userID string) (string, error) {
	return f.displayName, f.lookupErr
}

var friendlyName = regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+[0-9]{4}$`)

func TestOnboardNewUser_SetsFriendlyName(t *testing.T) {
	accounts := &fakeAccountPort{}
	service := NewService(accounts, rand.New(rand.NewSource(1)))

	result, err := service.OnboardNewUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("OnboardNewUser returned error: %v", err)
	}
	if result.ProfileUpdateErr != nil {
		t.Fatalf("Expected no profile update error, got %v", result.ProfileUpdateErr)
	}
	if len(accounts.calls) != 1 {
		t.Fatalf("Expected 1 profile update, got %d", len(accounts.calls))
	}
	call := accounts.calls[0]
	if call.userID != "user-1" || call.username != result.DisplayName || call.displayName != result.DisplayName {
		t.Fatalf("Unexpected profile update %+v for result %+v", call, result)
	}
	if !friendlyName.MatchString(result.DisplayName) {
		t.Fatalf("Display name %q does not look friendly", result.DisplayName)
	}
}

func TestOnboardNewUser_ProfileFailureIsNonFatal(t *testing.T) {
	accounts := &fakeAccountPort{updateErr: errors.New("update failed")}
	service := NewService(accounts, rand.New(rand.NewSource(1)))

	result, err := service.OnboardNewUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("OnboardNewUser returned error: %v", err)
	}
	if result.ProfileUpdateErr == nil {
		t.Fatal("Expected profile update error to be captured")
	}
}

func TestOnboardNewUser_KeepsExistingDisplayName(t *testing.T) {
	accounts := &fakeAccountPort{displayName: "DJ Night"}
	service := NewService(accounts, rand.New(rand.NewSource(1)))

	result, err := service.OnboardNewUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("OnboardNewUser returned error: %v", err)
	}
	if result.DisplayName != "DJ Night" || len(accounts.calls) != 0 {
		t.Fatalf("Existing name was replaced: result %+v, calls %+v", result, accounts.calls)
	}
}

func TestOnboardNewUser_LookupFailureStillNames(t *testing.T) {
	accounts := &fakeAccountPort{lookupErr: errors.New("lookup failed")}
	service := NewService(accounts, rand.New(rand.NewSource(1)))

	if _, err := service.OnboardNewUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("OnboardNewUser returned error: %v", err)
	}
	if len(accounts.calls) != 1 {
		t.Fatalf("Expected 1 profile update, got %d", len(accounts.calls))
	}
}

func TestOnboardNewUser_RequiresAccounts(t *testing.T) {
	service := NewService(nil, nil)
	if _, err := service.OnboardNewUser(context.Background(), "user-1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestFriendlyNameIsDeterministicForSeed(t *testing.T) {
	a := NewService(&fakeAccountPort{}, rand.New(rand.NewSource(7)))
	b := NewService(&fakeAccountPort{}, rand.New(rand.NewSource(7)))
	for i := 0; i < 5; i++ {
		if x, y := a.FriendlyName(), b.FriendlyName(); x != y {
			t.Fatalf("Names diverged at %d: %q vs %q", i, x, y)
		}
	}
}
