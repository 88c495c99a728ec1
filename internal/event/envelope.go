package event

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrMissingRequestID = errors.New("request_id is required")
	ErrMissingField     = errors.New("required field missing")
)

// ActionKind discriminates ledger actions.
type ActionKind int32

const (
	ActionUnknown ActionKind = iota
	ActionInitializeBank
	ActionInitializeUser
	ActionDeposit
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidate
)

var actionNames = map[ActionKind]string{
	ActionInitializeBank: "init_bank",
	ActionInitializeUser: "init_user",
	ActionDeposit:        "deposit",
	ActionWithdraw:       "withdraw",
	ActionBorrow:         "borrow",
	ActionRepay:          "repay",
	ActionLiquidate:      "liquidate",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseActionKind maps a name produced by String back to its kind.
func ParseActionKind(name string) (ActionKind, error) {
	for k, n := range actionNames {
		if n == name {
			return k, nil
		}
	}
	return ActionUnknown, fmt.Errorf("unknown action kind %q", name)
}

func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseActionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Action is implemented by every ledger command.
type Action interface {
	// IdempotencyKey is the stable dedup key supplied upstream.
	IdempotencyKey() string

	Kind() ActionKind

	// Signer is the identity authorizing the action. Source-account
	// transfers are signed with it.
	Signer() uuid.UUID

	// Validate checks the action is well-formed without consulting state.
	Validate() error
}

// ActionEnvelope is one committed action in the event log.
type ActionEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64 `json:"sequence"`

	IdempotencyKey string     `json:"idempotency_key"`
	Kind           ActionKind `json:"kind"`
	Signer         uuid.UUID  `json:"signer"`

	// Ledger time the action was applied at, unix seconds
	Timestamp int64 `json:"timestamp"`

	// JSON action and receipt
	Payload []byte `json:"payload"`
	Result  []byte `json:"result"`

	// SHA-256 of the chain after this action
	StateHash [32]byte `json:"-"`
	PrevHash  [32]byte `json:"-"`
}

func requireRequestID(id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrMissingRequestID
	}
	return nil
}

func requireField(ok bool, name string) error {
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}
