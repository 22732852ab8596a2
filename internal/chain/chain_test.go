package chain

import (
	"testing"
)

func TestNetworksRegistered(t *testing.T) {
	for _, n := range []Network{Mainnet, Testnet} {
		if _, ok := Get(n); !ok {
			t.Errorf("expected %s to be registered", n)
		}
	}
	if got := len(List()); got != 2 {
		t.Errorf("List() returned %d networks, want 2", got)
	}
}

func TestBitcoinMainnet(t *testing.T) {
	params := MustGet(Mainnet)

	if params.CoinType != 0 {
		t.Errorf("CoinType = %d, want 0", params.CoinType)
	}
	if params.PubKeyHashAddrID != 0x00 {
		t.Errorf("PubKeyHashAddrID = %#x, want 0x00", params.PubKeyHashAddrID)
	}
	if params.ScriptHashAddrID != 0x05 {
		t.Errorf("ScriptHashAddrID = %#x, want 0x05", params.ScriptHashAddrID)
	}
	if params.ChainParams().Name != "mainnet" {
		t.Errorf("ChainParams().Name = %s, want mainnet", params.ChainParams().Name)
	}
	if params.MinConfirmations != 3 {
		t.Errorf("MinConfirmations = %d, want 3", params.MinConfirmations)
	}
}

func TestBitcoinTestnet(t *testing.T) {
	params := MustGet(Testnet)

	if params.CoinType != 1 {
		t.Errorf("CoinType = %d, want 1", params.CoinType)
	}
	if params.PubKeyHashAddrID != 0x6f {
		t.Errorf("PubKeyHashAddrID = %#x, want 0x6f", params.PubKeyHashAddrID)
	}
	if params.ScriptHashAddrID != 0xc4 {
		t.Errorf("ScriptHashAddrID = %#x, want 0xc4", params.ScriptHashAddrID)
	}
	if params.ChainParams().PubKeyHashAddrID != params.PubKeyHashAddrID {
		t.Error("version byte disagrees with btcd params")
	}
	if params.ChainParams().ScriptHashAddrID != params.ScriptHashAddrID {
		t.Error("script hash byte disagrees with btcd params")
	}
}

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		in      string
		want    Network
		wantErr bool
	}{
		{"mainnet", Mainnet, false},
		{"Main", Mainnet, false},
		{"testnet", Testnet, false},
		{"testnet3", Testnet, false},
		{"regtest", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseNetwork(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNetwork(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNetwork(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLookupVersion(t *testing.T) {
	tests := []struct {
		version     byte
		wantType    ScriptType
		wantNetwork Network
	}{
		{0x00, ScriptP2PKH, Mainnet},
		{0x05, ScriptP2SHMultisig, Mainnet},
		{0x6f, ScriptP2PKH, Testnet},
		{0xc4, ScriptP2SHMultisig, Testnet},
	}

	for _, tt := range tests {
		typ, network, ok := LookupVersion(tt.version)
		if !ok {
			t.Errorf("LookupVersion(%#x) not found", tt.version)
			continue
		}
		if typ != tt.wantType || network != tt.wantNetwork {
			t.Errorf("LookupVersion(%#x) = (%s, %s), want (%s, %s)", tt.version, typ, network, tt.wantType, tt.wantNetwork)
		}
	}

	for _, v := range []byte{0x01, 0x30, 0x80, 0xef, 0xff} {
		if _, _, ok := LookupVersion(v); ok {
			t.Errorf("LookupVersion(%#x) should not match", v)
		}
	}
}

func TestVersionByte(t *testing.T) {
	params := MustGet(Testnet)
	if _, err := params.VersionByte(ScriptType("p2wpkh")); err == nil {
		t.Error("expected error for unsupported script type")
	}
}

func TestExplorerTxURL(t *testing.T) {
	txid := "ab"
	if got := MustGet(Mainnet).ExplorerTxURL(txid); got != "https://mempool.space/tx/ab" {
		t.Errorf("mainnet explorer = %s", got)
	}
	if got := MustGet(Testnet).ExplorerTxURL(txid); got != "https://mempool.space/testnet/tx/ab" {
		t.Errorf("testnet explorer = %s", got)
	}
}
