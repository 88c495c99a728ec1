package ingestion_test

import (
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"encoding/json"
	"errors"
	"testing"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"owner":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "SOL",
		"amount":     uint64(1_000_000),
	}

	a, err := ingestion.ParseAction(event.ActionDeposit, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := a.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", a)
	}
	if d.Asset != "SOL" {
		t.Errorf("asset: got %s, want SOL", d.Asset)
	}
	if d.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", d.Amount)
	}
	if d.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", d.IdempotencyKey())
	}
	if d.Kind() != event.ActionDeposit {
		t.Errorf("kind: got %v, want deposit", d.Kind())
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":       "550e8400-e29b-41d4-a716-446655440000",
		"liquidator":       "660e8400-e29b-41d4-a716-446655440001",
		"user":             "770e8400-e29b-41d4-a716-446655440002",
		"collateral_asset": "SOL",
		"debt_asset":       "USDC",
	}

	a, err := ingestion.ParseAction(event.ActionLiquidate, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	l := a.(*event.Liquidate)
	if l.CollateralAsset != "SOL" || l.DebtAsset != "USDC" {
		t.Errorf("assets: got %s/%s, want SOL/USDC", l.CollateralAsset, l.DebtAsset)
	}
	if l.Signer() != l.Liquidator {
		t.Errorf("signer should be the liquidator")
	}
}

func TestParseInitializeBank_Params(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"authority":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "USDC",
		"params": map[string]string{
			"liquidation_threshold":    "0.85",
			"max_ltv":                  "0.75",
			"liquidation_bonus":        "0.05",
			"liquidation_close_factor": "0.5",
			"interest_rate":            "0",
		},
	}

	a, err := ingestion.ParseAction(event.ActionInitializeBank, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	b := a.(*event.InitializeBank)
	if got := b.Params.LiquidationThreshold.String(); got != "0.85" {
		t.Errorf("threshold: got %s, want 0.85", got)
	}
	if got := b.Params.LiquidationBonus.String(); got != "0.05" {
		t.Errorf("bonus: got %s, want 0.05", got)
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":        "SOL",
		"price":        int64(2_345_000_000),
		"expo":         int32(-8),
		"published_at": int64(1_700_000_000),
		"sequence":     int64(42),
	}

	p, err := ingestion.ParsePriceUpdate(mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if p.Price != 2_345_000_000 {
		t.Errorf("price: got %d, want 2_345_000_000", p.Price)
	}
	if p.Expo != -8 {
		t.Errorf("expo: got %d, want -8", p.Expo)
	}
	if p.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", p.Sequence)
	}

	u := p.OracleUpdate()
	if u.Quote.Asset != "SOL" || u.Sequence != 42 {
		t.Errorf("oracle update: got %+v", u)
	}
}

func TestParsePriceUpdate_RequiresSequence(t *testing.T) {
	data := []byte(`{"asset":"SOL","price":1,"expo":0,"published_at":1}`)
	_, err := ingestion.ParsePriceUpdate(data)
	if !errors.Is(err, event.ErrMissingField) {
		t.Fatalf("got %v, want ErrMissingField", err)
	}
}

func TestParseUnknownKind_Fails(t *testing.T) {
	_, err := ingestion.ParseAction(event.ActionUnknown, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	_, err := ingestion.ParseAction(event.ActionDeposit, []byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	data := []byte(`{"request_id":"not-a-uuid","owner":"660e8400-e29b-41d4-a716-446655440001","asset":"SOL","amount":1}`)
	_, err := ingestion.ParseAction(event.ActionDeposit, data)
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseUnknownField_Fails(t *testing.T) {
	data := []byte(`{"request_id":"550e8400-e29b-41d4-a716-446655440000","owner":"660e8400-e29b-41d4-a716-446655440001","asset":"SOL","amount":1,"amout":2}`)
	_, err := ingestion.ParseAction(event.ActionDeposit, data)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseMissingAmount_Fails(t *testing.T) {
	data := []byte(`{"request_id":"550e8400-e29b-41d4-a716-446655440000","owner":"660e8400-e29b-41d4-a716-446655440001","asset":"SOL"}`)
	_, err := ingestion.ParseAction(event.ActionWithdraw, data)
	if !errors.Is(err, event.ErrMissingField) {
		t.Fatalf("got %v, want ErrMissingField", err)
	}
}

func TestKindFromSubject(t *testing.T) {
	kind, err := ingestion.KindFromSubject("lending.actions.borrow.660e8400-e29b-41d4-a716-446655440001")
	if err != nil {
		t.Fatalf("KindFromSubject: %v", err)
	}
	if kind != event.ActionBorrow {
		t.Errorf("kind: got %v, want borrow", kind)
	}

	if _, err := ingestion.KindFromSubject("lending.prices.SOL"); err == nil {
		t.Error("expected error for price subject")
	}
	if _, err := ingestion.KindFromSubject("lending.actions.trade_fill.x"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
