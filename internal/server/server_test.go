package server_test

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"LendLedger/internal/observability"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"LendLedger/internal/testutil"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newService(t *testing.T) (*testutil.Fixture, *server.LendingService) {
	t.Helper()
	f := testutil.NewFixture(t, testutil.DefaultParams())
	qs := query.NewQueryService(f.Store, f.Feed, f.Custody, f.Clock, time.Minute)
	return f, server.NewLendingService(f.Engine, qs, f.Custody, f.Feed, f.Clock)
}

func newHTTP(t *testing.T) (*testutil.Fixture, *httptest.Server) {
	t.Helper()
	f, svc := newService(t)
	srv, err := server.New(server.Config{}, svc, observability.NewHealthChecker(), nil, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return f, ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{core.ErrDuplicateRequest, codes.AlreadyExists},
		{lending.ErrPositionNotFound, codes.NotFound},
		{fmt.Errorf("get: %w", lending.ErrStalePrice), codes.Unavailable},
		{fmt.Errorf("%w: %w", lending.ErrTransferFailed, lending.ErrInsufficientFunds), codes.Aborted},
		{lending.ErrOverBorrowableAmount, codes.FailedPrecondition},
		{lending.ErrInvalidAmount, codes.InvalidArgument},
		{lending.ErrMathOverflow, codes.OutOfRange},
		{status.Error(codes.Unauthenticated, "no"), codes.Unauthenticated},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, server.Code(c.err), "%v", c.err)
	}
}

func TestGateway_DepositBorrowFlow(t *testing.T) {
	f, ts := newHTTP(t)
	lender, user := uuid.New(), uuid.New()

	var fund server.FundResponse
	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/custody/fund",
		server.FundRequest{Owner: lender, Asset: testutil.DebtAsset, Amount: 10_000}, &fund))
	assert.Equal(t, uint64(10_000), fund.Balance)
	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/custody/fund",
		server.FundRequest{Owner: user, Asset: testutil.CollateralAsset, Amount: 1_000}, nil))

	for _, u := range []struct {
		owner uuid.UUID
		asset lending.AssetID
	}{{lender, testutil.DebtAsset}, {user, testutil.CollateralAsset}} {
		require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/users",
			event.InitializeUser{RequestID: uuid.New(), Owner: u.owner, CollateralAsset: u.asset}, nil))
	}

	var receipt core.Receipt
	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/deposit", event.AssetAction{
		RequestID: uuid.New(), Owner: lender, Asset: testutil.DebtAsset, Amount: 10_000,
	}, &receipt))
	assert.Equal(t, event.ActionDeposit, receipt.Kind)
	require.NotNil(t, receipt.Bank)
	assert.Equal(t, uint64(10_000), receipt.Bank.TotalDeposits)

	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/deposit", event.AssetAction{
		RequestID: uuid.New(), Owner: user, Asset: testutil.CollateralAsset, Amount: 1_000,
	}, nil))

	var rpcErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	code := do(t, ts, "POST", "/v1/borrow", event.AssetAction{
		RequestID: uuid.New(), Owner: user, Asset: testutil.DebtAsset, Amount: 801,
	}, &rpcErr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, int(codes.FailedPrecondition), rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "borrowing amount exceeds collateral")

	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/borrow", event.AssetAction{
		RequestID: uuid.New(), Owner: user, Asset: testutil.DebtAsset, Amount: 800,
	}, nil))

	var pos query.PositionResponse
	require.Equal(t, http.StatusOK, do(t, ts, "GET", "/v1/users/"+user.String(), nil, &pos))
	assert.Equal(t, uint64(800), pos.Debt.DebtClaim)
	require.NotNil(t, pos.HealthFactor)

	var wallet query.WalletResponse
	require.Equal(t, http.StatusOK, do(t, ts, "GET", "/v1/custody/"+user.String()+"/USDC", nil, &wallet))
	assert.Equal(t, uint64(800), wallet.Balance)

	var bank query.BankResponse
	require.Equal(t, http.StatusOK, do(t, ts, "GET", "/v1/banks/USDC", nil, &bank))
	assert.Equal(t, uint64(800), bank.TotalBorrowed)
	assert.Equal(t, f.Engine.Sequence(), bank.AsOfSequence)
}

func TestGateway_ErrorStatuses(t *testing.T) {
	f, ts := newHTTP(t)

	assert.Equal(t, http.StatusNotFound, do(t, ts, "GET", "/v1/users/"+uuid.NewString(), nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, ts, "GET", "/v1/users/not-a-uuid", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, ts, "GET", "/v1/banks/BTC", nil, nil))
	// history needs postgres
	assert.Equal(t, http.StatusServiceUnavailable, do(t, ts, "GET", "/v1/users/"+uuid.NewString()+"/actions", nil, nil))

	initUser := event.InitializeUser{RequestID: uuid.New(), Owner: uuid.New(), CollateralAsset: testutil.CollateralAsset}
	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/users", initUser, nil))
	assert.Equal(t, http.StatusConflict, do(t, ts, "POST", "/v1/users", initUser, nil))

	bank := event.InitializeBank{RequestID: uuid.New(), Authority: uuid.New(), Asset: testutil.DebtAsset, Params: testutil.DefaultParams()}
	assert.Equal(t, http.StatusConflict, do(t, ts, "POST", "/v1/banks", bank, nil))

	f.Clock.Advance(2 * time.Minute)
	owner := f.NewUser(testutil.CollateralAsset, 100)
	_, err := f.Deposit(owner, testutil.CollateralAsset, 100)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, ts, "POST", "/v1/borrow", event.AssetAction{
		RequestID: uuid.New(), Owner: owner, Asset: testutil.DebtAsset, Amount: 1,
	}, nil))
}

func TestGateway_SetPrice(t *testing.T) {
	f, ts := newHTTP(t)

	var resp server.PriceResponse
	require.Equal(t, http.StatusOK, do(t, ts, "POST", "/v1/prices",
		event.PriceUpdate{Asset: testutil.CollateralAsset, Price: 2_00000000, Expo: -8, Sequence: 5}, &resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, int64(3), resp.Gap)

	q, err := f.Feed.GetPrice(context.Background(), testutil.CollateralAsset, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, f.Clock.Now().Unix(), q.PublishedAt)

	assert.Equal(t, http.StatusBadRequest, do(t, ts, "POST", "/v1/prices",
		event.PriceUpdate{Asset: testutil.CollateralAsset, Price: -1, Sequence: 6}, nil))
}

func TestGateway_Health(t *testing.T) {
	_, ts := newHTTP(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGRPC_JSONCodec(t *testing.T) {
	f, svc := newService(t)
	srv, err := server.New(server.Config{}, svc, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.GRPC().Serve(lis) }()
	t.Cleanup(srv.GRPC().Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := server.NewClient(conn)
	ctx := context.Background()

	owner := f.NewUser(testutil.CollateralAsset, 500)
	var receipt core.Receipt
	require.NoError(t, client.Invoke(ctx, "Deposit", &event.Deposit{AssetAction: event.AssetAction{
		RequestID: uuid.New(), Owner: owner, Asset: testutil.CollateralAsset, Amount: 500,
	}}, &receipt))
	require.NotNil(t, receipt.Position)
	assert.Equal(t, uint64(500), receipt.Position.Collateral.DepositedShares)

	var pos query.PositionResponse
	require.NoError(t, client.Invoke(ctx, "GetPosition", &server.GetPositionRequest{Owner: owner}, &pos))
	assert.Equal(t, uint64(500), pos.Collateral.DepositClaim)

	err = client.Invoke(ctx, "Withdraw", &event.Withdraw{AssetAction: event.AssetAction{
		RequestID: uuid.New(), Owner: owner, Asset: testutil.CollateralAsset, Amount: 501,
	}}, &receipt)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	err = client.Invoke(ctx, "GetPosition", &server.GetPositionRequest{Owner: uuid.New()}, &pos)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
