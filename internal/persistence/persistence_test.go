package persistence

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/testutil"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects every output the fixture engine has emitted so far.
func drain(f *testutil.Fixture) []core.CoreOutput {
	var outs []core.CoreOutput
	for {
		select {
		case out := <-f.Persist:
			outs = append(outs, out)
		default:
			return outs
		}
	}
}

func lastOf(outs []core.CoreOutput, kind event.ActionKind) core.CoreOutput {
	for i := len(outs) - 1; i >= 0; i-- {
		if outs[i].Envelope.Kind == kind {
			return outs[i]
		}
	}
	return core.CoreOutput{}
}

// ============================================================================
// Test: Row mapping
// ============================================================================

func TestRowsFromOutput_Deposit(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	owner := f.NewUser(testutil.CollateralAsset, 1_000)
	_, err := f.Deposit(owner, testutil.CollateralAsset, 250)
	require.NoError(t, err)

	out := lastOf(drain(f), event.ActionDeposit)
	require.NotNil(t, out.Envelope)

	row, transfers := RowsFromOutput(out)
	assert.Equal(t, out.Envelope.Sequence, row.Sequence)
	assert.Equal(t, "deposit", row.Kind)
	assert.Equal(t, owner, row.Signer)
	assert.True(t, row.Subject.Valid)
	assert.Equal(t, owner, row.Subject.UUID)
	assert.Len(t, row.StateHash, 32)
	assert.Len(t, row.PrevHash, 32)
	assert.Equal(t, testutil.FixtureStart, row.AppliedAt)

	require.Len(t, transfers, 1)
	tr := transfers[0]
	assert.Equal(t, "250", tr.Amount)
	assert.Equal(t, "SOL", tr.Asset)
	assert.Equal(t, "treasury:SOL", tr.ToAccount)
	assert.Equal(t, "user:"+owner.String()+":wallet:SOL", tr.FromAccount)
	assert.Equal(t, row.Sequence, tr.Sequence)
}

func TestRowsFromOutput_InitializeBankHasNoSubject(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	out := lastOf(drain(f), event.ActionInitializeBank)
	require.NotNil(t, out.Envelope)

	row, transfers := RowsFromOutput(out)
	assert.False(t, row.Subject.Valid)
	assert.Empty(t, transfers)
}

// ============================================================================
// Test: EventLogWriter
// ============================================================================

type recordingExecer struct {
	queries []string
	args    [][]any
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return nil, nil
}

func TestWriteActionBatch_MultiRowInsert(t *testing.T) {
	ex := &recordingExecer{}
	rows := []ActionRow{
		{Sequence: 1, Kind: "deposit", IdempotencyKey: "a", Signer: uuid.New()},
		{Sequence: 2, Kind: "borrow", IdempotencyKey: "b", Signer: uuid.New()},
	}
	require.NoError(t, EventLogWriter{}.WriteActionBatch(context.Background(), ex, rows))

	require.Len(t, ex.queries, 1)
	q := ex.queries[0]
	assert.Contains(t, q, "INSERT INTO event_log.actions")
	assert.Contains(t, q, "($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)")
	assert.Contains(t, q, "ON CONFLICT (sequence) DO NOTHING")
	assert.Len(t, ex.args[0], 20)
	assert.Equal(t, int64(2), ex.args[0][10])
}

func TestWriteTransferBatch_Empty(t *testing.T) {
	ex := &recordingExecer{}
	require.NoError(t, EventLogWriter{}.WriteTransferBatch(context.Background(), ex, nil))
	assert.Empty(t, ex.queries)
}

// ============================================================================
// Test: PersistenceWorker
// ============================================================================

type flakyWriter struct {
	mu       sync.Mutex
	failures int
	batches  [][]ActionRow
}

func (w *flakyWriter) WriteBatch(_ context.Context, actions []ActionRow, _ []TransferRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("connection reset")
	}
	w.batches = append(w.batches, append([]ActionRow(nil), actions...))
	return nil
}

func TestPersistenceWorker_RetriesUntilWritten(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	outs := drain(f)
	require.Len(t, outs, 2)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	writer := &flakyWriter{failures: 2}
	in := make(chan core.CoreOutput, len(outs))
	w := NewPersistenceWorker(writer, in, 2, time.Hour, metrics, zerolog.Nop())

	for _, out := range outs {
		in <- out
	}
	close(in)
	require.NoError(t, w.Run(context.Background()))

	require.Len(t, writer.batches, 1)
	assert.Len(t, writer.batches[0], 2)
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PersistRetry))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PersistActionsWritten))
	assert.Equal(t, float64(outs[1].Envelope.Sequence), promtest.ToFloat64(metrics.PersistLastSequence))
}

func TestPersistenceWorker_FlushesPartialBatchOnClose(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	outs := drain(f)

	writer := &flakyWriter{}
	in := make(chan core.CoreOutput, 1)
	w := NewPersistenceWorker(writer, in, 100, time.Hour, nil, zerolog.Nop())

	in <- outs[0]
	close(in)
	require.NoError(t, w.Run(context.Background()))
	require.Len(t, writer.batches, 1)
	assert.Equal(t, outs[0].Envelope.Sequence, writer.batches[0][0].Sequence)
}

func TestPersistenceWorker_FlushesOnCancel(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	outs := drain(f)

	writer := &flakyWriter{}
	in := make(chan core.CoreOutput, 1)
	w := NewPersistenceWorker(writer, in, 100, time.Hour, nil, zerolog.Nop())
	in <- outs[0]

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(in) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, writer.batches, 1)
}

// ============================================================================
// Test: Migrator
// ============================================================================

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
	assert.Equal(t, "000002", extractVersion("000002_projections.down.sql"))
}

func TestListMigrationFiles_Sorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	m := NewMigrator(nil, dir, zerolog.Nop())

	ups, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, ups)
}

func TestRepositoryMigrationsPair(t *testing.T) {
	m := NewMigrator(nil, filepath.Join("..", "..", "migrations"), zerolog.Nop())
	ups, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	downs, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)

	require.Len(t, downs, len(ups))
	for i, up := range ups {
		assert.Equal(t, strings.Replace(up, ".up.sql", ".down.sql", 1), downs[i])
	}
}

// ============================================================================
// Test: Postgres round trip (integration)
// ============================================================================

func TestPostgres_WriteAndDedup(t *testing.T) {
	db := testutil.PostgresDB(t)
	ctx := context.Background()

	require.NoError(t, NewMigrator(db, filepath.Join("..", "..", "migrations"), zerolog.Nop()).Up(ctx))

	f := testutil.NewFixture(t, testutil.DefaultParams())
	owner := f.NewUser(testutil.CollateralAsset, 1_000)
	_, err := f.Deposit(owner, testutil.CollateralAsset, 100)
	require.NoError(t, err)
	outs := drain(f)

	var actions []ActionRow
	var transfers []TransferRow
	for _, out := range outs {
		row, trs := RowsFromOutput(out)
		actions = append(actions, row)
		transfers = append(transfers, trs...)
	}
	writer := NewPostgresBatchWriter(db, nil)
	require.NoError(t, writer.WriteBatch(ctx, actions, transfers))
	// rewriting the same batch is a no-op
	require.NoError(t, writer.WriteBatch(ctx, actions, transfers))

	checker := NewPostgresIdempotencyChecker(db)
	dep := lastOf(outs, event.ActionDeposit)
	dup, err := checker.IsDuplicate(ctx, "deposit", dep.Envelope.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = checker.IsDuplicate(ctx, "deposit", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, dup)

	last, err := checker.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, dep.Envelope.Sequence, last)

	keys, err := checker.RecentKeys(ctx, 10)
	require.NoError(t, err)
	require.Len(t, keys, len(outs))
	assert.Equal(t, "deposit:"+dep.Envelope.IdempotencyKey, keys[len(keys)-1])
}
