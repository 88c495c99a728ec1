package projection

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/testutil"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	queries []string
	args    [][]any
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return nil, nil
}

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

func TestApplyUpdate_BorrowTouchesBothBanks(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	lender := f.NewUser(testutil.DebtAsset, 10_000)
	_, err := f.Deposit(lender, testutil.DebtAsset, 10_000)
	require.NoError(t, err)
	user := f.NewUser(testutil.CollateralAsset, 1_000)
	_, err = f.Deposit(user, testutil.CollateralAsset, 1_000)
	require.NoError(t, err)
	_, err = f.Borrow(user, testutil.DebtAsset, 800)
	require.NoError(t, err)

	outs := drain(f)
	u := UpdateFromOutput(outs[len(outs)-1])
	require.Len(t, u.Banks, 2)

	ex := &recordingExecer{}
	require.NoError(t, applyUpdate(context.Background(), ex, u))
	require.Len(t, ex.queries, 4)
	assert.True(t, strings.Contains(ex.queries[0], "projections.banks"))
	assert.True(t, strings.Contains(ex.queries[2], "projections.positions"))
	assert.True(t, strings.Contains(ex.queries[3], "projections.watermark"))

	// borrow bank first: total_borrowed is the fifth column
	assert.Equal(t, "USDC", ex.args[0][0])
	assert.Equal(t, "800", ex.args[0][4])
	assert.Equal(t, "0.8", ex.args[0][6])

	pos := ex.args[2]
	assert.Equal(t, user, pos[0])
	assert.Equal(t, "1000", pos[3])
	assert.Equal(t, "800", pos[9])
	assert.Equal(t, u.Sequence, pos[11])
	assert.Equal(t, []any{Name, u.Sequence}, ex.args[3])
}

func TestApplyUpdate_BankOnly(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	outs := drain(f)

	ex := &recordingExecer{}
	require.NoError(t, applyUpdate(context.Background(), ex, UpdateFromOutput(outs[0])))
	assert.Len(t, ex.queries, 2)
}

type failingWriter struct {
	mu      sync.Mutex
	failSeq int64
	applied []int64
}

func (w *failingWriter) Apply(_ context.Context, u Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u.Sequence == w.failSeq {
		return errors.New("relation does not exist")
	}
	w.applied = append(w.applied, u.Sequence)
	return nil
}

func TestProjectionWorker_SkipsFailedUpdate(t *testing.T) {
	f := testutil.NewFixture(t, testutil.DefaultParams())
	owner := f.NewUser(testutil.CollateralAsset, 100)
	_, err := f.Deposit(owner, testutil.CollateralAsset, 100)
	require.NoError(t, err)
	outs := drain(f)
	require.Len(t, outs, 4)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	writer := &failingWriter{failSeq: outs[1].Envelope.Sequence}
	in := make(chan core.CoreOutput, len(outs))
	for _, out := range outs {
		in <- out
	}
	close(in)

	w := NewProjectionWorker(writer, in, metrics, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))

	assert.Len(t, writer.applied, 3)
	assert.Equal(t, outs[3].Envelope.Sequence, w.LastSequence())
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.ProjectionUpdates.WithLabelValues(Name)))
}

func TestRebuild_Postgres(t *testing.T) {
	db := testutil.PostgresDB(t)
	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, filepath.Join("..", "..", "migrations"), zerolog.Nop()).Up(ctx))

	f := testutil.NewFixture(t, testutil.DefaultParams())
	owner := f.NewUser(testutil.CollateralAsset, 500)
	_, err := f.Deposit(owner, testutil.CollateralAsset, 500)
	require.NoError(t, err)

	require.NoError(t, Rebuild(ctx, db, f.Store))

	var deposits string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT total_deposits::text FROM projections.banks WHERE asset = 'SOL'`).Scan(&deposits))
	assert.Equal(t, "500", deposits)

	var shares string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT collateral_deposited_shares::text FROM projections.positions WHERE owner = $1`, owner).Scan(&shares))
	assert.Equal(t, "500", shares)

	var seq int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, Name).Scan(&seq))
	assert.Equal(t, f.Engine.Sequence(), seq)
}
