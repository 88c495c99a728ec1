package ingestion_test

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATS_DepositRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("nats unavailable (docker compose -f docker-compose.test.yml up -d): %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	publishCh := make(chan core.CoreOutput, 16)
	f := testutil.NewFixture(t, testutil.DefaultParams(),
		core.WithOutputs(core.Outputs{Persist: make(chan core.CoreOutput, 64), Publish: publishCh}))
	owner := f.NewUser(testutil.CollateralAsset, 500)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// A consumer scoped to this owner keeps earlier runs' messages out.
	raw := make(chan ingestion.RawEvent, 8)
	sub := ingestion.NewNATSSubscriber(js, raw, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:      ingestion.ActionSubjectPrefix + "deposit." + owner.String(),
		ConsumerName: "test-" + owner.String(),
		StreamName:   ingestion.ActionStream,
	}}))
	defer sub.Stop()
	defer js.DeleteConsumer(context.Background(), ingestion.ActionStream, "test-"+owner.String())

	router := ingestion.NewRouter(f.Engine, f.Feed, metrics, zerolog.Nop())
	go router.Run(ctx, raw)
	publisher := ingestion.NewOutboundPublisher(js, publishCh, metrics, zerolog.Nop())
	go publisher.Run(ctx)

	dep := &event.Deposit{AssetAction: event.AssetAction{
		RequestID: uuid.New(), Owner: owner, Asset: testutil.CollateralAsset, Amount: 200,
	}}
	data, err := json.Marshal(dep)
	require.NoError(t, err)
	_, err = js.Publish(ctx, ingestion.ActionSubject(dep), data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.Wallet(owner, testutil.CollateralAsset) == 300
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, uint64(200), f.Treasury(testutil.CollateralAsset))

	stream, err := js.Stream(ctx, ingestion.EventStream)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msg, err := stream.GetLastMsgForSubject(ctx, ingestion.EventSubjectPrefix+event.ActionDeposit.String())
		if err != nil {
			return false
		}
		var ev ingestion.LedgerEvent
		return json.Unmarshal(msg.Data, &ev) == nil && ev.IdempotencyKey == dep.RequestID.String()
	}, 10*time.Second, 50*time.Millisecond)
}
