package wallet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/paybyt/paybyt-wallet/internal/backend"
	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/storage"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
	"github.com/paybyt/paybyt-wallet/pkg/logging"
	"github.com/shopspring/decimal"
)

const (
	vaultFile      = "wallet.seed"
	settingNetwork = "network"
)

// Pending transaction errors.
var (
	ErrPendingNotFound     = errors.New("pending transaction not found")
	ErrBroadcastInProgress = errors.New("broadcast already in progress")
	ErrReservationLost     = errors.New("reservation no longer holds the inputs")

	// ErrSpendNotRecorded is returned with the txid when the network
	// accepted a transaction but its inputs could not be marked spent.
	ErrSpendNotRecorded = errors.New("broadcast inputs not marked spent")
)

// Event types emitted by the service.
const (
	EventUTXOReserved = "utxo_reserved"
	EventUTXOReleased = "utxo_released"
	EventTxFinalized  = "tx_finalized"
	EventTxBroadcast  = "tx_broadcast"
)

// Event is a notification of a reservation or transaction state change.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler receives service events. It must not block.
type EventHandler func(Event)

// ServiceConfig holds configuration for the wallet service.
type ServiceConfig struct {
	DataDir string
	Network chain.Network
	Storage *storage.Storage
	Backend backend.Backend
	Logger  *logging.Logger

	// Builder defaults to DefaultBuilder.
	Builder *Builder

	// MinConfirmations defaults to the network's value.
	MinConfirmations int64
	GapLimit         uint32

	FiatCurrency  string
	MaxFiatAmount decimal.Decimal
}

// Service is a wallet session on one network. It owns the key tree, the
// UTXO reservations and the transactions being signed.
type Service struct {
	dataDir  string
	network  chain.Network
	params   *chain.Params
	store    *storage.Storage
	backend  backend.Backend
	builder  Builder
	minConf  int64
	gapLimit uint32
	fiat     string
	maxFiat  decimal.Decimal
	log      *logging.Logger

	mu     sync.RWMutex
	wallet *Wallet

	// Serializes coin selection and reservation
	prepareMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*PendingTx

	eventsMu sync.RWMutex
	onEvent  EventHandler
}

// NewService creates a wallet service. The network cannot be changed
// afterwards.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil || cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	network := cfg.Network
	if network == "" {
		network = chain.Testnet
	}
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}

	// A database holds the UTXOs of one network only
	stored, err := cfg.Storage.GetSetting(settingNetwork)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	switch stored {
	case "":
		if err := cfg.Storage.SetSetting(settingNetwork, string(network)); err != nil {
			return nil, fmt.Errorf("failed to write settings: %w", err)
		}
	case string(network):
	default:
		return nil, fmt.Errorf("%w: database belongs to %s", ErrNetworkMismatch, stored)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Dir(cfg.Storage.Path())
	}

	builder := DefaultBuilder
	if cfg.Builder != nil {
		builder = *cfg.Builder
	}

	minConf := cfg.MinConfirmations
	if minConf <= 0 {
		minConf = params.MinConfirmations
	}

	gapLimit := cfg.GapLimit
	if gapLimit == 0 {
		gapLimit = 20
	}

	fiat := cfg.FiatCurrency
	if fiat == "" {
		fiat = "USD"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefault().Component("wallet")
	}

	return &Service{
		dataDir:  dataDir,
		network:  network,
		params:   params,
		store:    cfg.Storage,
		backend:  cfg.Backend,
		builder:  builder,
		minConf:  minConf,
		gapLimit: gapLimit,
		fiat:     fiat,
		maxFiat:  cfg.MaxFiatAmount,
		log:      logger,
		pending:  make(map[string]*PendingTx),
	}, nil
}

// Network returns the session network.
func (s *Service) Network() chain.Network {
	return s.network
}

// Params returns the session network parameters.
func (s *Service) Params() *chain.Params {
	return s.params
}

// Builder returns the transaction builder of the session.
func (s *Service) Builder() Builder {
	return s.builder
}

// SetEventHandler registers the receiver of service events.
func (s *Service) SetEventHandler(h EventHandler) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.onEvent = h
}

func (s *Service) emit(eventType string, data interface{}) {
	s.eventsMu.RLock()
	h := s.onEvent
	s.eventsMu.RUnlock()
	if h != nil {
		h(Event{Type: eventType, Data: data})
	}
}

// =============================================================================
// Wallet lifecycle
// =============================================================================

func (s *Service) vaultPath() string {
	return filepath.Join(s.dataDir, vaultFile)
}

// HasWallet reports whether an encrypted wallet exists on disk.
func (s *Service) HasWallet() bool {
	_, err := LoadVault(s.vaultPath())
	return err == nil
}

// IsUnlocked reports whether the key tree is loaded.
func (s *Service) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet != nil
}

// Status summarizes the session.
type Status struct {
	Network          chain.Network `json:"network"`
	HasWallet        bool          `json:"hasWallet"`
	Unlocked         bool          `json:"unlocked"`
	MinConfirmations int64         `json:"minConfirmations"`
	PendingTxs       int           `json:"pendingTxs"`
}

// Status returns the session status.
func (s *Service) Status() *Status {
	s.pendingMu.Lock()
	pending := len(s.pending)
	s.pendingMu.Unlock()

	return &Status{
		Network:          s.network,
		HasWallet:        s.HasWallet(),
		Unlocked:         s.IsUnlocked(),
		MinConfirmations: s.minConf,
		PendingTxs:       pending,
	}
}

// CreateWallet loads the key tree of mnemonic and stores it encrypted under
// password.
func (s *Service) CreateWallet(mnemonic, passphrase, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ValidateMnemonic(mnemonic) {
		return ErrInvalidMnemonic
	}
	vault, err := SealMnemonic(mnemonic, passphrase, password, s.network)
	if err != nil {
		return err
	}

	w, err := NewFromMnemonic(mnemonic, passphrase, s.network)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	if err := vault.Save(s.vaultPath()); err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	s.wallet = w

	s.log.Info("wallet created", "network", s.network)
	return nil
}

// UnlockWallet decrypts the stored wallet and loads its key tree.
func (s *Service) UnlockWallet(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := LoadVault(s.vaultPath())
	if err != nil {
		return err
	}
	if vault.Network != s.network {
		return fmt.Errorf("%w: wallet was created for %s", ErrNetworkMismatch, vault.Network)
	}

	mnemonic, passphrase, err := vault.Open(password)
	if err != nil {
		return err
	}
	w, err := NewFromMnemonic(mnemonic, passphrase, s.network)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	s.wallet = w

	s.log.Info("wallet unlocked", "network", s.network)
	return nil
}

// Lock drops the key tree from memory.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet != nil {
		s.wallet.ClearCache()
		s.wallet = nil
		s.log.Info("wallet locked")
	}
}

func (s *Service) loadedWallet() (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return nil, ErrWalletLocked
	}
	return s.wallet, nil
}

// =============================================================================
// Addresses
// =============================================================================

// GetAddress derives and records the address at account 0, change, index.
func (s *Service) GetAddress(change, index uint32) (*Address, error) {
	w, err := s.loadedWallet()
	if err != nil {
		return nil, err
	}
	return s.recordAddress(w, change, index)
}

// NextAddress derives and records the first unused index of a branch.
func (s *Service) NextAddress(change uint32) (*Address, uint32, error) {
	w, err := s.loadedWallet()
	if err != nil {
		return nil, 0, err
	}

	index, err := s.store.GetNextAddressIndex(string(s.network), 0, change)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get next address index: %w", err)
	}
	addr, err := s.recordAddress(w, change, index)
	if err != nil {
		return nil, 0, err
	}
	return addr, index, nil
}

func (s *Service) recordAddress(w *Wallet, change, index uint32) (*Address, error) {
	addr, err := w.Address(0, change, index)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetWalletAddress(addr.Encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to load address: %w", err)
	}
	if existing != nil {
		return addr, nil
	}

	err = s.store.SaveWalletAddress(&storage.WalletAddress{
		Address:      addr.Encoded,
		Network:      string(s.network),
		Change:       change,
		AddressIndex: index,
		ScriptType:   string(addr.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save address: %w", err)
	}
	return addr, nil
}

// =============================================================================
// UTXOs and balance
// =============================================================================

// ListUTXOs returns spendable UTXOs, or every tracked UTXO if all is set.
func (s *Service) ListUTXOs(all bool) ([]*storage.WalletUTXO, error) {
	if all {
		return s.store.GetAllUTXOs(string(s.network))
	}
	return s.store.GetSpendableUTXOs(string(s.network), s.minConf)
}

// ListAddresses returns the addresses derived so far on the session
// network.
func (s *Service) ListAddresses() ([]*storage.WalletAddress, error) {
	return s.store.ListWalletAddresses(string(s.network))
}

// GetBalance returns the tracked balance by UTXO status.
func (s *Service) GetBalance() (*storage.Balance, error) {
	return s.store.GetBalance(string(s.network))
}

// GetFeeEstimates returns the backend's fee rates clamped to the accepted
// range.
func (s *Service) GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error) {
	if s.backend == nil {
		return nil, backend.ErrNotConnected
	}
	est, err := s.backend.GetFeeEstimates(ctx)
	if err != nil {
		return nil, err
	}

	for _, rate := range []*uint64{&est.FastestFee, &est.HalfHourFee, &est.HourFee, &est.EconomyFee, &est.MinimumFee} {
		*rate = clampRate(*rate)
	}
	return est, nil
}

func clampRate(rate uint64) uint64 {
	if rate < MinFeeRate {
		return MinFeeRate
	}
	if rate > MaxFeeRate {
		return MaxFeeRate
	}
	return rate
}

// inputFromStore converts a tracked UTXO to a builder input.
func (s *Service) inputFromStore(u *storage.WalletUTXO) (UTXO, error) {
	script, err := helpers.DecodeHex(u.ScriptPubKey)
	if err != nil || len(script) == 0 {
		addr, err := ValidateNetwork(u.Address, s.network)
		if err != nil {
			return UTXO{}, err
		}
		if script, err = addr.PkScript(); err != nil {
			return UTXO{}, err
		}
	}
	return UTXO{TxID: u.TxID, Vout: u.Vout, ScriptPubKey: script, Value: u.Amount}, nil
}

// =============================================================================
// Fiat
// =============================================================================

// GetPrice returns the BTC price in currency, or in the configured fiat
// currency if empty.
func (s *Service) GetPrice(ctx context.Context, currency string) (*backend.Price, error) {
	if s.backend == nil {
		return nil, backend.ErrNotConnected
	}
	if currency == "" {
		currency = s.fiat
	}
	return s.backend.GetPrice(ctx, currency)
}

// FiatToSatoshis converts a fiat amount at the current price after
// checking it against the configured bounds.
func (s *Service) FiatToSatoshis(ctx context.Context, amount decimal.Decimal, currency string) (uint64, *backend.Price, error) {
	if err := helpers.ValidateFiatAmount(amount, s.maxFiat); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	price, err := s.GetPrice(ctx, currency)
	if err != nil {
		return 0, nil, err
	}
	sats, err := helpers.FiatToSatoshis(amount, price.PerBTC)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return sats, price, nil
}

// =============================================================================
// Spending
// =============================================================================

// SendRequest is a payment from the wallet's own UTXOs.
type SendRequest struct {
	Outputs []Output `json:"outputs"`
	FeeRate uint64   `json:"feeRate"`
}

// PendingTx is a reserved, possibly signed transaction.
type PendingTx struct {
	ID        string                `json:"id"`
	Tx        *UnsignedTransaction  `json:"tx"`
	State     SigningState          `json:"state"`
	Final     *FinalizedTransaction `json:"final,omitempty"`
	TxID      string                `json:"txid,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`

	session      *SigningSession
	sources      []*storage.WalletUTXO
	broadcasting bool
}

// snapshot returns a copy safe to hand out while the lock is released.
func (p *PendingTx) snapshot() *PendingTx {
	cp := *p
	cp.State = p.session.State()
	cp.Final = p.session.Finalized()
	return &cp
}

// Prepare selects, reserves and assembles a payment. The reservation is
// released if assembly fails.
func (s *Service) Prepare(req *SendRequest) (*PendingTx, error) {
	if _, err := s.loadedWallet(); err != nil {
		return nil, err
	}
	if req == nil || len(req.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrInvalidAmount)
	}
	if err := ValidateRate(req.FeeRate); err != nil {
		return nil, err
	}

	s.prepareMu.Lock()
	defer s.prepareMu.Unlock()

	stored, err := s.store.GetSpendableUTXOs(string(s.network), s.minConf)
	if err != nil {
		return nil, fmt.Errorf("failed to load utxos: %w", err)
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Amount > stored[j].Amount })

	inputs := make([]UTXO, 0, len(stored))
	byOutpoint := make(map[storage.Outpoint]*storage.WalletUTXO, len(stored))
	for _, u := range stored {
		in, err := s.inputFromStore(u)
		if err != nil {
			s.log.Warn("skipping unusable utxo", "outpoint", u.Outpoint(), "error", err)
			continue
		}
		inputs = append(inputs, in)
		byOutpoint[u.Outpoint()] = u
	}

	selected, err := s.builder.SelectCoins(inputs, req.Outputs, req.FeeRate)
	if err != nil {
		return nil, err
	}

	changeAddr, _, err := s.NextAddress(1)
	if err != nil {
		return nil, err
	}

	outpoints := make([]storage.Outpoint, len(selected))
	sources := make([]*storage.WalletUTXO, len(selected))
	for i, in := range selected {
		outpoints[i] = storage.Outpoint{TxID: in.TxID, Vout: in.Vout}
		sources[i] = byOutpoint[outpoints[i]]
	}

	id := storage.NewReservationID()
	if err := s.store.ReserveUTXOs(id, outpoints); err != nil {
		return nil, err
	}

	tx, err := s.builder.Build(&BuildRequest{
		UTXOs:         selected,
		Outputs:       req.Outputs,
		FeeRate:       req.FeeRate,
		ChangeAddress: changeAddr.Encoded,
		Network:       s.network,
	})
	if err != nil {
		if _, relErr := s.store.ReleaseReservation(id); relErr != nil {
			s.log.Error("failed to release reservation", "reservation", id, "error", relErr)
		}
		return nil, err
	}

	p := &PendingTx{
		ID:        id,
		Tx:        tx,
		CreatedAt: time.Now(),
		session:   NewSigningSession(tx),
		sources:   sources,
	}

	s.pendingMu.Lock()
	s.pending[id] = p
	snap := p.snapshot()
	s.pendingMu.Unlock()

	s.log.Info("utxos reserved", "reservation", id, "count", len(outpoints), "fee", tx.Fee)
	s.emit(EventUTXOReserved, map[string]interface{}{"id": id, "outpoints": outpoints})
	return snap, nil
}

// Pending returns a pending transaction.
func (s *Service) Pending(id string) (*PendingTx, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}
	return p.snapshot(), nil
}

// ListPending returns all pending transactions, oldest first.
func (s *Service) ListPending() []*PendingTx {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	out := make([]*PendingTx, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sign signs every input of a pending transaction with the wallet keys.
func (s *Service) Sign(id string) (*PendingTx, error) {
	w, err := s.loadedWallet()
	if err != nil {
		return nil, err
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}

	for i, src := range p.sources {
		key, err := w.PrivateKey(src.Account, src.Change, src.AddressIndex)
		if err != nil {
			return nil, err
		}
		if _, err := p.session.Sign(i, key); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	return p.snapshot(), nil
}

// AddSignature records a signature produced elsewhere.
func (s *Service) AddSignature(id string, sig *Signature) (*PendingTx, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}
	if err := p.session.AddSignature(sig); err != nil {
		return nil, err
	}
	return p.snapshot(), nil
}

// Finalize serializes a fully signed pending transaction.
func (s *Service) Finalize(id string) (*FinalizedTransaction, error) {
	s.pendingMu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}
	final, err := p.session.Finalize()
	s.pendingMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info("transaction finalized", "reservation", id, "txid", final.TxID)
	s.emit(EventTxFinalized, map[string]interface{}{"id": id, "txid": final.TxID})
	return final, nil
}

// Broadcast publishes a finalized pending transaction and marks its
// inputs spent once the network accepted it.
func (s *Service) Broadcast(ctx context.Context, id string) (string, error) {
	if s.backend == nil {
		return "", backend.ErrNotConnected
	}

	// The broadcasting flag keeps ExpireReservations away from the
	// reservation until the inputs are marked spent.
	s.pendingMu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.pendingMu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}
	final := p.session.Finalized()
	if final == nil {
		s.pendingMu.Unlock()
		return "", fmt.Errorf("%w: transaction is not finalized", ErrIncompleteSignatureSet)
	}
	if p.broadcasting {
		s.pendingMu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrBroadcastInProgress, id)
	}
	p.broadcasting = true
	s.pendingMu.Unlock()

	held, err := s.store.GetReservedUTXOs(id)
	if err == nil && len(held) != len(p.sources) {
		err = fmt.Errorf("%w: %s holds %d of %d inputs", ErrReservationLost, id, len(held), len(p.sources))
	}
	var txid string
	if err == nil {
		txid, err = s.backend.BroadcastTransaction(ctx, final.Raw)
	}
	if err != nil {
		s.pendingMu.Lock()
		p.broadcasting = false
		s.pendingMu.Unlock()
		s.log.Warn("broadcast failed", "reservation", id, "error", err)
		return "", err
	}
	if txid == "" {
		txid = final.TxID
	}

	_, markErr := s.store.MarkReservationSpent(id, txid)

	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()

	if markErr != nil {
		s.log.Error("failed to mark utxos spent", "reservation", id, "txid", txid, "error", markErr)
		return txid, fmt.Errorf("%w: %s: %v", ErrSpendNotRecorded, txid, markErr)
	}

	s.log.Info("transaction broadcast", "txid", txid, "explorer", s.params.ExplorerTxURL(txid))
	s.emit(EventTxBroadcast, map[string]interface{}{"id": id, "txid": txid, "explorer": s.params.ExplorerTxURL(txid)})
	return txid, nil
}

// BroadcastRaw publishes a transaction built outside the session.
func (s *Service) BroadcastRaw(ctx context.Context, rawTxHex string) (string, error) {
	if s.backend == nil {
		return "", backend.ErrNotConnected
	}
	if err := backend.ValidateRawTxHex(rawTxHex); err != nil {
		return "", err
	}
	if _, err := DecodeFinalized(rawTxHex); err != nil {
		return "", err
	}
	return s.backend.BroadcastTransaction(ctx, rawTxHex)
}

// Send prepares, signs, finalizes and broadcasts a payment. The
// reservation is released if any step before the broadcast fails.
func (s *Service) Send(ctx context.Context, req *SendRequest) (string, error) {
	p, err := s.Prepare(req)
	if err != nil {
		return "", err
	}

	txid, err := s.completeSend(ctx, p.ID)
	if errors.Is(err, ErrSpendNotRecorded) {
		return txid, err
	}
	if err != nil {
		if abandonErr := s.Abandon(p.ID); abandonErr != nil && !errors.Is(abandonErr, ErrPendingNotFound) {
			s.log.Error("failed to abandon transaction", "reservation", p.ID, "error", abandonErr)
		}
		return "", err
	}
	return txid, nil
}

func (s *Service) completeSend(ctx context.Context, id string) (string, error) {
	if _, err := s.Sign(id); err != nil {
		return "", err
	}
	if _, err := s.Finalize(id); err != nil {
		return "", err
	}
	return s.Broadcast(ctx, id)
}

// Abandon discards a pending transaction and releases its UTXOs.
func (s *Service) Abandon(id string) error {
	s.pendingMu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	s.pendingMu.Unlock()

	n, err := s.store.ReleaseReservation(id)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	if !ok && n == 0 {
		return fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}

	s.log.Info("utxos released", "reservation", id, "count", n)
	s.emit(EventUTXOReleased, map[string]interface{}{"id": id, "count": n})
	return nil
}

// ExpireReservations releases reservations older than ttl and drops their
// pending transactions. Finalized transactions keep their reservation
// until they are broadcast or abandoned.
func (s *Service) ExpireReservations(ttl time.Duration) ([]string, error) {
	s.pendingMu.Lock()
	var keep []string
	for id, p := range s.pending {
		if p.broadcasting || p.session.Finalized() != nil {
			keep = append(keep, id)
		}
	}
	ids, err := s.store.ExpireReservations(ttl, keep...)
	if err != nil {
		s.pendingMu.Unlock()
		return nil, err
	}
	for _, id := range ids {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	for _, id := range ids {
		s.log.Info("reservation expired", "reservation", id)
		s.emit(EventUTXOReleased, map[string]interface{}{"id": id, "expired": true})
	}
	return ids, nil
}

// SignWithKey signs the inputs of tx that key can spend. It is used for
// templates not owned by the session, such as escrow spends.
func SignWithKey(tx *UnsignedTransaction, key *btcec.PrivateKey) ([]*Signature, error) {
	var sigs []*Signature
	for i := range tx.Inputs {
		sig, err := SignInput(tx, i, key)
		if errors.Is(err, ErrSigning) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("%w: key matches no input", ErrSigning)
	}
	return sigs, nil
}
