package server

import (
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
)

// routeFunc decodes a request from the body and path parameters, then
// calls the service.
type routeFunc func(ctx context.Context, r *http.Request, dec runtime.Decoder, params map[string]string) (any, error)

// body decodes the JSON body into a fresh Req and passes it to call.
func body[Req any, Resp any](call func(LendingServer, context.Context, *Req) (Resp, error), srv LendingServer) routeFunc {
	return func(ctx context.Context, _ *http.Request, dec runtime.Decoder, _ map[string]string) (any, error) {
		in := new(Req)
		if err := dec.Decode(in); err != nil {
			return nil, errors.Wrapf(event.ErrMissingField, "decode body: %v", err)
		}
		return call(srv, ctx, in)
	}
}

func ownerParam(params map[string]string) (uuid.UUID, error) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		return uuid.Nil, errors.Wrapf(event.ErrMissingField, "owner: %v", err)
	}
	return owner, nil
}

// NewGateway builds the HTTP/JSON routes. They call srv in process and
// map errors through the gRPC codes, so both surfaces report the same
// status for the same failure.
func NewGateway(srv LendingServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONBuiltin{}),
	)

	routes := []struct {
		method, path string
		fn           routeFunc
	}{
		{"POST", "/v1/banks", body(LendingServer.InitializeBank, srv)},
		{"POST", "/v1/users", body(LendingServer.InitializeUser, srv)},
		{"POST", "/v1/deposit", body(LendingServer.Deposit, srv)},
		{"POST", "/v1/withdraw", body(LendingServer.Withdraw, srv)},
		{"POST", "/v1/borrow", body(LendingServer.Borrow, srv)},
		{"POST", "/v1/repay", body(LendingServer.Repay, srv)},
		{"POST", "/v1/liquidate", body(LendingServer.Liquidate, srv)},
		{"POST", "/v1/prices", body(LendingServer.SetPrice, srv)},
		{"POST", "/v1/custody/fund", body(LendingServer.Fund, srv)},

		{"GET", "/v1/banks/{asset}", func(ctx context.Context, _ *http.Request, _ runtime.Decoder, p map[string]string) (any, error) {
			return srv.GetBank(ctx, &GetBankRequest{Asset: lending.AssetID(p["asset"])})
		}},
		{"GET", "/v1/users/{owner}", func(ctx context.Context, _ *http.Request, _ runtime.Decoder, p map[string]string) (any, error) {
			owner, err := ownerParam(p)
			if err != nil {
				return nil, err
			}
			return srv.GetPosition(ctx, &GetPositionRequest{Owner: owner})
		}},
		{"GET", "/v1/users/{owner}/actions", func(ctx context.Context, r *http.Request, _ runtime.Decoder, p map[string]string) (any, error) {
			owner, err := ownerParam(p)
			if err != nil {
				return nil, err
			}
			req := &GetActionHistoryRequest{Owner: owner}
			q := r.URL.Query()
			if v := q.Get("limit"); v != "" {
				if req.Limit, err = strconv.Atoi(v); err != nil {
					return nil, errors.Wrapf(event.ErrMissingField, "limit: %v", err)
				}
			}
			if v := q.Get("before_sequence"); v != "" {
				if req.BeforeSequence, err = strconv.ParseInt(v, 10, 64); err != nil {
					return nil, errors.Wrapf(event.ErrMissingField, "before_sequence: %v", err)
				}
			}
			return srv.GetActionHistory(ctx, req)
		}},
		{"GET", "/v1/custody/{owner}/{asset}", func(ctx context.Context, _ *http.Request, _ runtime.Decoder, p map[string]string) (any, error) {
			owner, err := ownerParam(p)
			if err != nil {
				return nil, err
			}
			return srv.GetWallet(ctx, &GetWalletRequest{Owner: owner, Asset: lending.AssetID(p["asset"])})
		}},
		{"GET", "/v1/admin/integrity", func(ctx context.Context, _ *http.Request, _ runtime.Decoder, _ map[string]string) (any, error) {
			return srv.VerifyIntegrity(ctx, &VerifyIntegrityRequest{})
		}},
	}

	for _, rt := range routes {
		fn := rt.fn
		err := mux.HandlePath(rt.method, rt.path, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			inbound, outbound := runtime.MarshalerForRequest(mux, r)
			resp, err := fn(r.Context(), r, inbound.NewDecoder(r.Body), params)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, toStatus(err))
				return
			}
			data, err := outbound.Marshal(resp)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, toStatus(err))
				return
			}
			w.Header().Set("Content-Type", outbound.ContentType(resp))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "register %s %s", rt.method, rt.path)
		}
	}
	return mux, nil
}
