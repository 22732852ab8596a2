package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/chain"
)

func newTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Type != TypeMempool {
		t.Errorf("Type = %s, want mempool", cfg.Type)
	}
	if cfg.URL(chain.Mainnet) != "https://mempool.space/api" {
		t.Errorf("mainnet URL = %s", cfg.URL(chain.Mainnet))
	}
	if cfg.URL(chain.Testnet) != "https://mempool.space/testnet/api" {
		t.Errorf("testnet URL = %s", cfg.URL(chain.Testnet))
	}
}

func TestNew(t *testing.T) {
	b, err := New(&Config{Type: TypeEsplora, TestnetURL: "https://blockstream.info/testnet/api"}, chain.Testnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.Type() != TypeEsplora {
		t.Errorf("Type() = %s, want esplora", b.Type())
	}

	if _, err := New(&Config{Type: "electrum", MainnetURL: "x"}, chain.Mainnet); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("expected ErrUnsupportedBackend, got %v", err)
	}
	if _, err := New(&Config{Type: TypeMempool}, chain.Mainnet); err == nil {
		t.Error("expected error for missing endpoint")
	}
}

func TestNewMempoolBackend(t *testing.T) {
	backend := NewMempoolBackend("https://mempool.space/api/")

	if backend.Type() != TypeMempool {
		t.Errorf("Type() = %s, want mempool", backend.Type())
	}
	if backend.IsConnected() {
		t.Error("should not be connected initially")
	}
	if backend.baseURL != "https://mempool.space/api" {
		t.Errorf("baseURL = %s, trailing slash should be removed", backend.baseURL)
	}
}

func TestMempoolConnectClose(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/blocks/tip/height": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "800000")
		},
	})

	b := NewMempoolBackend(srv.URL)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !b.IsConnected() {
		t.Error("should be connected")
	}
	b.Close()
	if b.IsConnected() {
		t.Error("should not be connected after Close")
	}
}

func TestMempoolGetAddressUTXOs(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/blocks/tip/height": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "100")
		},
		"/address/mx/utxo": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Cache-Control") != "no-cache" {
				t.Error("missing cache-busting header")
			}
			io.WriteString(w, `[
				{"txid":"aa","vout":0,"value":50000,"status":{"confirmed":true,"block_height":98}},
				{"txid":"bb","vout":1,"value":30000,"status":{"confirmed":false}}
			]`)
		},
	})

	utxos, err := NewMempoolBackend(srv.URL).GetAddressUTXOs(context.Background(), "mx")
	if err != nil {
		t.Fatalf("GetAddressUTXOs() error = %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("got %d utxos, want 2", len(utxos))
	}
	if utxos[0].Amount != 50000 || utxos[0].Confirmations != 3 {
		t.Errorf("utxo[0] = %+v, want 50000 sats with 3 confirmations", utxos[0])
	}
	if utxos[1].Confirmations != 0 {
		t.Errorf("unconfirmed utxo has %d confirmations", utxos[1].Confirmations)
	}
}

func TestMempoolStatusErrors(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/address/missing": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"/address/busy": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"/tx/dead": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	})

	b := NewMempoolBackend(srv.URL)
	ctx := context.Background()

	if _, err := b.GetAddressInfo(ctx, "missing"); !errors.Is(err, ErrAddressNotFound) {
		t.Errorf("expected ErrAddressNotFound, got %v", err)
	}
	if _, err := b.GetAddressInfo(ctx, "busy"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if _, err := b.GetTransaction(ctx, "dead"); !errors.Is(err, ErrTxNotFound) {
		t.Errorf("expected ErrTxNotFound, got %v", err)
	}
}

func TestMempoolBroadcast(t *testing.T) {
	var posted string
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/tx": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			body, _ := io.ReadAll(r.Body)
			posted = string(body)
			if posted == "00" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, "TX decode failed")
				return
			}
			io.WriteString(w, "f00d\n")
		},
	})

	b := NewMempoolBackend(srv.URL)
	ctx := context.Background()

	txid, err := b.BroadcastTransaction(ctx, "0100abcd")
	if err != nil {
		t.Fatalf("BroadcastTransaction() error = %v", err)
	}
	if txid != "f00d" {
		t.Errorf("txid = %q, want f00d", txid)
	}
	if posted != "0100abcd" {
		t.Errorf("posted body = %q", posted)
	}

	if _, err := b.BroadcastTransaction(ctx, "00"); !errors.Is(err, ErrBroadcastFailed) {
		t.Errorf("expected ErrBroadcastFailed, got %v", err)
	}

	posted = ""
	for _, bad := range []string{"0100ABCD", "abc", "", "zz"} {
		if _, err := b.BroadcastTransaction(ctx, bad); !errors.Is(err, ErrInvalidTx) {
			t.Errorf("BroadcastTransaction(%q) error = %v, want ErrInvalidTx", bad, err)
		}
	}
	if posted != "" {
		t.Error("invalid hex must not reach the network")
	}
}

func TestMempoolFeeEstimates(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/v1/fees/recommended": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"fastestFee":25,"halfHourFee":20,"hourFee":15,"economyFee":5,"minimumFee":1}`)
		},
	})

	fees, err := NewMempoolBackend(srv.URL).GetFeeEstimates(context.Background())
	if err != nil {
		t.Fatalf("GetFeeEstimates() error = %v", err)
	}
	if fees.FastestFee != 25 || fees.HourFee != 15 || fees.MinimumFee != 1 {
		t.Errorf("fees = %+v", fees)
	}
}

func TestMempoolGetPrice(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/v1/prices": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"time":1703252411,"USD":43753.5,"EUR":40545}`)
		},
	})

	b := NewMempoolBackend(srv.URL)
	price, err := b.GetPrice(context.Background(), "usd")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price.Currency != "USD" || price.PerBTC.String() != "43753.5" {
		t.Errorf("price = %s %s", price.PerBTC, price.Currency)
	}
	if price.Time != 1703252411 {
		t.Errorf("Time = %d", price.Time)
	}

	if _, err := b.GetPrice(context.Background(), "BRL"); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestEsploraFeeEstimates(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/fee-estimates": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"1":30.5,"3":20,"6":12,"144":2}`)
		},
	})

	b := NewEsploraBackend(srv.URL)
	fees, err := b.GetFeeEstimates(context.Background())
	if err != nil {
		t.Fatalf("GetFeeEstimates() error = %v", err)
	}
	if fees.FastestFee != 30 || fees.EconomyFee != 2 || fees.MinimumFee != 1 {
		t.Errorf("fees = %+v", fees)
	}

	if _, err := b.GetPrice(context.Background(), "USD"); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestConfirmations(t *testing.T) {
	tests := []struct {
		confirmed bool
		height    int64
		tip       int64
		want      int64
	}{
		{false, 0, 100, 0},
		{true, 100, 100, 1},
		{true, 90, 100, 11},
		{true, 90, 0, 1},
	}

	for _, tt := range tests {
		if got := confirmations(tt.confirmed, tt.height, tt.tip); got != tt.want {
			t.Errorf("confirmations(%v, %d, %d) = %d, want %d", tt.confirmed, tt.height, tt.tip, got, tt.want)
		}
	}
}

func TestRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/blocks/tip/height": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			io.WriteString(w, "812345")
		},
	})

	height, err := NewMempoolBackend(srv.URL).GetBlockHeight(context.Background())
	if err != nil {
		t.Fatalf("GetBlockHeight() error = %v", err)
	}
	if height != 812345 {
		t.Errorf("height = %d, want 812345", height)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestUnexpectedStatus(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/v1/fees/recommended": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream down")
		},
	})

	_, err := NewMempoolBackend(srv.URL).GetFeeEstimates(context.Background())
	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if status.Code != http.StatusBadGateway || status.Body != "upstream down" {
		t.Errorf("status = %+v", status)
	}
}

func TestConnectUnreachable(t *testing.T) {
	b := newMempoolBackend("http://127.0.0.1:1", time.Second)
	if err := b.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
	if b.IsConnected() {
		t.Error("should not be connected")
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"soon", 0},
		{"0", 0},
		{"2", 2 * time.Second},
		{"120", maxRetryAfter},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.header); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
