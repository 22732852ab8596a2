package main

import (
	"errors"
	"fmt"

	"github.com/paybyt/paybyt-wallet/internal/rpc"
	"github.com/urfave/cli/v2"
)

var passwordFlag = &cli.StringFlag{
	Name:    "password",
	Usage:   "password used to encrypt the wallet vault",
	EnvVars: []string{"PAYBYT_PASSWORD"},
}

var status = cli.Command{
	Name:   "status",
	Usage:  "show the wallet status",
	Action: statusAction,
}

var genseed = cli.Command{
	Name:   "genseed",
	Usage:  "generate a new BIP39 mnemonic",
	Action: genseedAction,
}

var createwallet = cli.Command{
	Name:  "create",
	Usage: "create the wallet from a mnemonic",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "mnemonic",
			Usage: "BIP39 mnemonic; a fresh one is generated when empty",
		},
		&cli.StringFlag{
			Name:  "passphrase",
			Usage: "optional BIP39 passphrase",
		},
		passwordFlag,
	},
	Action: createWalletAction,
}

var unlockwallet = cli.Command{
	Name:   "unlock",
	Usage:  "unlock the wallet",
	Flags:  []cli.Flag{passwordFlag},
	Action: unlockWalletAction,
}

var lockwallet = cli.Command{
	Name:   "lock",
	Usage:  "lock the wallet and wipe keys from memory",
	Action: lockWalletAction,
}

var address = cli.Command{
	Name:  "address",
	Usage: "derive a receive or change address",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "change",
			Usage: "derive from the change chain",
		},
		&cli.UintFlag{
			Name:  "index",
			Usage: "address index; the next unused one when omitted",
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "full derivation path such as m/44'/0'/0'/0/3",
		},
	},
	Action: addressAction,
}

var addresses = cli.Command{
	Name:   "addresses",
	Usage:  "list the addresses derived so far",
	Action: listAddressesAction,
}

var validateaddress = cli.Command{
	Name:      "validateaddress",
	Usage:     "check an address against the wallet network",
	ArgsUsage: "<address>",
	Action:    validateAddressAction,
}

var syncutxos = cli.Command{
	Name:   "sync",
	Usage:  "refresh the UTXO set from the backend",
	Action: syncAction,
}

var listutxos = cli.Command{
	Name:  "utxos",
	Usage: "list wallet UTXOs",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "include reserved and spent outputs",
		},
	},
	Action: listUTXOsAction,
}

var balance = cli.Command{
	Name:   "balance",
	Usage:  "show the wallet balance",
	Action: balanceAction,
}

var fees = cli.Command{
	Name:   "fees",
	Usage:  "show fee rate estimates in sat/byte",
	Action: feesAction,
}

func statusAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_status", nil)
}

func genseedAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_generate", nil)
}

func createWalletAction(ctx *cli.Context) error {
	password := ctx.String("password")
	if password == "" {
		return errors.New("password must not be null")
	}

	mnemonic := ctx.String("mnemonic")
	if mnemonic == "" {
		var gen rpc.WalletGenerateResult
		if err := callInto(ctx, "wallet_generate", nil, &gen); err != nil {
			return err
		}
		mnemonic = gen.Mnemonic
		fmt.Printf("Write down the following mnemonic and keep it safe:\n\n%s\n\n", mnemonic)
	}

	return callAndPrint(ctx, "wallet_create", rpc.WalletCreateParams{
		Mnemonic:   mnemonic,
		Passphrase: ctx.String("passphrase"),
		Password:   password,
	})
}

func unlockWalletAction(ctx *cli.Context) error {
	password := ctx.String("password")
	if password == "" {
		return errors.New("password must not be null")
	}
	return callAndPrint(ctx, "wallet_unlock", rpc.WalletUnlockParams{Password: password})
}

func lockWalletAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_lock", nil)
}

func addressAction(ctx *cli.Context) error {
	params := rpc.WalletGetAddressParams{Change: ctx.Bool("change")}
	if ctx.IsSet("index") {
		index := uint32(ctx.Uint("index"))
		params.Index = &index
	}
	params.Path = ctx.String("path")
	return callAndPrint(ctx, "wallet_getAddress", params)
}

func listAddressesAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_listAddresses", nil)
}

func validateAddressAction(ctx *cli.Context) error {
	addr := ctx.Args().First()
	if addr == "" {
		return errors.New("address must not be null")
	}
	return callAndPrint(ctx, "wallet_validateAddress", rpc.WalletValidateAddressParams{Address: addr})
}

func syncAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_syncUTXOs", nil)
}

func listUTXOsAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_listUTXOs", rpc.WalletListUTXOsParams{All: ctx.Bool("all")})
}

func balanceAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_getBalance", nil)
}

func feesAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "wallet_getFeeEstimates", nil)
}
