package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	Register(&Params{
		Network:  Mainnet,
		Name:     "Bitcoin",
		CoinType: 0,

		PubKeyHashAddrID: 0x00, // 1...
		ScriptHashAddrID: 0x05, // 3...
		WIF:              0x80,

		HDPrivateKeyID: [4]byte{0x04, 0x88, 0xad, 0xe4}, // xprv
		HDPublicKeyID:  [4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub

		ExplorerURL:      "https://mempool.space",
		MinConfirmations: 3,

		chainParams: &chaincfg.MainNetParams,
	})

	Register(&Params{
		Network:  Testnet,
		Name:     "Bitcoin Testnet",
		CoinType: 1,

		PubKeyHashAddrID: 0x6f, // m or n
		ScriptHashAddrID: 0xc4, // 2...
		WIF:              0xef,

		HDPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
		HDPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub

		ExplorerURL:      "https://mempool.space/testnet",
		MinConfirmations: 1,

		chainParams: &chaincfg.TestNet3Params,
	})
}
