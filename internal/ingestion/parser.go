package ingestion

import (
	"LendLedger/internal/event"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseAction decodes a JSON payload for kind into its action and
// validates it. Unknown fields are rejected so that a producer typo does
// not silently drop a field.
func ParseAction(kind event.ActionKind, data []byte) (event.Action, error) {
	var a event.Action
	switch kind {
	case event.ActionInitializeBank:
		a = &event.InitializeBank{}
	case event.ActionInitializeUser:
		a = &event.InitializeUser{}
	case event.ActionDeposit:
		a = &event.Deposit{}
	case event.ActionWithdraw:
		a = &event.Withdraw{}
	case event.ActionBorrow:
		a = &event.Borrow{}
	case event.ActionRepay:
		a = &event.Repay{}
	case event.ActionLiquidate:
		a = &event.Liquidate{}
	default:
		return nil, fmt.Errorf("unknown action kind: %s", kind)
	}

	if err := decodeStrict(data, a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", kind, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", kind, err)
	}
	return a, nil
}

// ParsePriceUpdate decodes an oracle price publication.
func ParsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var p event.PriceUpdate
	if err := decodeStrict(data, &p); err != nil {
		return nil, fmt.Errorf("parse price update: %w", err)
	}
	if p.Asset == "" {
		return nil, fmt.Errorf("parse price update: %w: asset", event.ErrMissingField)
	}
	if p.Sequence <= 0 {
		return nil, fmt.Errorf("parse price update: %w: sequence", event.ErrMissingField)
	}
	return &p, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// KindFromSubject extracts the action kind from
// lending.actions.{kind}.{...}.
func KindFromSubject(subject string) (event.ActionKind, error) {
	rest, ok := strings.CutPrefix(subject, ActionSubjectPrefix)
	if !ok {
		return event.ActionUnknown, fmt.Errorf("subject %q is not an action subject", subject)
	}
	name, _, _ := strings.Cut(rest, ".")
	return event.ParseActionKind(name)
}
