package main

import (
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/rpc"
	"github.com/urfave/cli/v2"
)

func testContext(t *testing.T, handler http.HandlerFunc) *cli.Context {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("rpc", srv.URL, "")
	set.Duration("timeout", 5*time.Second, "")
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestCallRPC(t *testing.T) {
	ctx := testContext(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "wallet_lock":
			json.NewEncoder(w).Encode(rpc.Response{JSONRPC: "2.0", Result: map[string]bool{"locked": true}, ID: req.ID})
		default:
			json.NewEncoder(w).Encode(rpc.Response{
				JSONRPC: "2.0",
				Error:   &rpc.Error{Code: rpc.RecoverableError, Message: "insufficient funds"},
				ID:      req.ID,
			})
		}
	})

	var out struct {
		Locked bool `json:"locked"`
	}
	if err := callInto(ctx, "wallet_lock", nil, &out); err != nil {
		t.Fatalf("callInto() error = %v", err)
	}
	if !out.Locked {
		t.Error("expected locked result")
	}

	_, err := callRPC(ctx, "tx_send", rpc.TxPrepareParams{})
	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("callRPC() error = %v, want rpc error", err)
	}
	if rpcErr.Code != rpc.RecoverableError {
		t.Errorf("Code = %d, want %d", rpcErr.Code, rpc.RecoverableError)
	}
}

func TestCallRPCUnreachable(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("rpc", "http://127.0.0.1:1", "")
	set.Duration("timeout", time.Second, "")
	ctx := cli.NewContext(cli.NewApp(), set, nil)

	if _, err := callRPC(ctx, "wallet_status", nil); err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
}

func TestParseOutputs(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    []uint64
		wantErr bool
	}{
		{"single", []string{"mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn:0.001"}, []uint64{100000}, false},
		{"multiple", []string{"a:1", "b:0.00000546"}, []uint64{100000000, 546}, false},
		{"none", nil, nil, true},
		{"missing amount", []string{"mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn"}, nil, true},
		{"missing address", []string{":0.1"}, nil, true},
		{"bad amount", []string{"a:abc"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOutputs(tt.values)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseOutputs() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOutputs() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, out := range got {
				if out.Value != tt.want[i] {
					t.Errorf("output %d value = %d, want %d", i, out.Value, tt.want[i])
				}
			}
		})
	}
}
