package nakama

import (
	"context"
	"fmt"

	"offbeat/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// AccountAdapter implements ports.AccountPort on Nakama accounts.
type AccountAdapter struct {
	nk runtime.NakamaModule
}

func NewAccountAdapter(nk runtime.NakamaModule) *AccountAdapter {
	return &AccountAdapter{nk: nk}
}

// UpdateProfile leaves metadata, timezone, location, language and avatar untouched.
func (a *AccountAdapter) UpdateProfile(ctx context.Context, userID, username, displayName string) error {
	if err := a.nk.AccountUpdateId(ctx, userID, username, nil, displayName, "", "", "", ""); err != nil {
		return fmt.Errorf("update account %s: %w", userID, err)
	}
	return nil
}

func (a *AccountAdapter) DisplayName(ctx context.Context, userID string) (string, error) {
	account, err := a.nk.AccountGetId(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get account %s: %w", userID, err)
	}
	return account.GetUser().GetDisplayName(), nil
}

var _ ports.AccountPort = (*AccountAdapter)(nil)
