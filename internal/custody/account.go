package custody

import (
	"LendLedger/internal/lending"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope is the top-level custody namespace.
type AccountScope uint8

const (
	ScopeUser AccountScope = iota
	ScopeTreasury
	ScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeTreasury:
		return "treasury"
	case ScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// treasuryNamespace seeds the deterministic treasury authorities.
var treasuryNamespace = uuid.MustParse("6f1c7a52-3c1e-4b5e-9d0a-1e6b8f4a2c71")

// TreasuryAuthority is the identity allowed to move funds out of the
// treasury for asset. It is derived from the asset alone, so every
// process computes the same value.
func TreasuryAuthority(asset lending.AssetID) uuid.UUID {
	return uuid.NewSHA1(treasuryNamespace, []byte("treasury:"+string(asset)))
}

// AccountKey identifies one custodial balance.
type AccountKey struct {
	Scope AccountScope
	Owner uuid.UUID // zero for treasury and external accounts
	Asset lending.AssetID
}

// NewWalletKey is a user's custodial wallet for asset.
func NewWalletKey(owner uuid.UUID, asset lending.AssetID) AccountKey {
	return AccountKey{Scope: ScopeUser, Owner: owner, Asset: asset}
}

// NewTreasuryKey is the bank vault for asset.
func NewTreasuryKey(asset lending.AssetID) AccountKey {
	return AccountKey{Scope: ScopeTreasury, Asset: asset}
}

// NewExternalKey is the boundary through which funds enter custody.
func NewExternalKey(asset lending.AssetID) AccountKey {
	return AccountKey{Scope: ScopeExternal, Asset: asset}
}

// Authority returns the identity that must sign transfers out of k.
func (k AccountKey) Authority() uuid.UUID {
	switch k.Scope {
	case ScopeUser:
		return k.Owner
	case ScopeTreasury:
		return TreasuryAuthority(k.Asset)
	}
	return uuid.Nil
}

// AccountPath is the string form used in storage and logs.
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case ScopeUser:
		return fmt.Sprintf("user:%s:wallet:%s", k.Owner, k.Asset)
	case ScopeTreasury:
		return fmt.Sprintf("treasury:%s", k.Asset)
	case ScopeExternal:
		return fmt.Sprintf("external:%s", k.Asset)
	}
	return "unknown"
}

func (k AccountKey) String() string { return k.AccountPath() }

func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

func (k *AccountKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountPath(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user" && parts[2] == "wallet":
		owner, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewWalletKey(owner, lending.AssetID(parts[3])), nil
	case len(parts) == 2 && parts[0] == "treasury":
		return NewTreasuryKey(lending.AssetID(parts[1])), nil
	case len(parts) == 2 && parts[0] == "external":
		return NewExternalKey(lending.AssetID(parts[1])), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}
