package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/blockchain"
	"github.com/chronodrachma/utxod/pkg/core/mempool"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/log"
	"github.com/chronodrachma/utxod/pkg/miner"
	"github.com/chronodrachma/utxod/pkg/rpc"
	"github.com/chronodrachma/utxod/pkg/wallet"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var ownerFlag = &cli.StringFlag{
	Name:     "owner",
	Usage:    "owner public key (hex)",
	Required: true,
}

var amountFlag = &cli.StringFlag{
	Name:     "amount",
	Usage:    "amount in coins, e.g. 1.5",
	Required: true,
}

func parseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil || len(key) == 0 {
		return nil, errors.Errorf("invalid public key %q", s)
	}
	return key, nil
}

// withNode opens the node for the duration of fn.
func withNode(fn func(c *cli.Context, n *node) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		n, err := openNode(c)
		if err != nil {
			return err
		}
		defer n.Close()
		return fn(c, n)
	}
}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate an Ed25519 key pair",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Usage: "private key file", Value: "key.hex"},
	},
	Action: func(c *cli.Context) error {
		pub, priv, err := wallet.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(c.String("out"), priv); err != nil {
			return errors.Wrap(err, "save key")
		}
		fmt.Printf("public key: %x\naddress:    %s\nsaved to:   %s\n",
			[]byte(pub), address.Hex(wallet.Address(address.NewKeccakDeriver(), pub)), c.String("out"))
		return nil
	},
}

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "create the genesis block paying the reward to --owner and build the index",
	Flags: []cli.Flag{ownerFlag},
	Action: withNode(func(c *cli.Context, n *node) error {
		owner, err := parseKey(c.String("owner"))
		if err != nil {
			return err
		}
		genesis, err := n.chain.InitGenesis(n.deriver.Derive(owner), time.Now())
		if err != nil {
			return err
		}
		count, err := n.utxos.Reindex()
		if err != nil {
			return err
		}
		fmt.Printf("genesis %s, %d transactions indexed\n", genesis.Hash, count)
		return nil
	}),
}

var mintCommand = &cli.Command{
	Name:  "mint",
	Usage: "append a block whose coinbase pays --owner",
	Flags: []cli.Flag{ownerFlag},
	Action: withNode(func(c *cli.Context, n *node) error {
		owner, err := parseKey(c.String("owner"))
		if err != nil {
			return err
		}
		block, err := n.chain.Mint(n.deriver.Derive(owner), nil, time.Now())
		if err != nil {
			return err
		}
		if _, err := n.utxos.Reindex(); err != nil {
			return err
		}
		fmt.Printf("block %d %s\n", block.Header.Height, block.Hash)
		return nil
	}),
}

var sendCommand = &cli.Command{
	Name:  "send",
	Usage: "pay --amount from the key in --key to --to",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key", Usage: "sender private key file", Required: true},
		&cli.StringFlag{Name: "to", Usage: "recipient public key (hex)", Required: true},
		&cli.StringFlag{Name: "miner", Usage: "public key (hex) receiving the block reward; defaults to the sender"},
		amountFlag,
	},
	Action: withNode(func(c *cli.Context, n *node) error {
		priv, err := wallet.LoadKey(c.String("key"))
		if err != nil {
			return err
		}
		from := []byte(wallet.PublicKey(priv))
		to, err := parseKey(c.String("to"))
		if err != nil {
			return err
		}
		amount, err := types.ParseAmount(c.String("amount"))
		if err != nil {
			return err
		}
		rewardKey := from
		if c.IsSet("miner") {
			if rewardKey, err = parseKey(c.String("miner")); err != nil {
				return err
			}
		}

		tx, err := wallet.BuildTransfer(n.utxos, n.deriver, from, to, amount, time.Now())
		if err != nil {
			return err
		}
		block, err := n.chain.Mint(n.deriver.Derive(rewardKey), []*types.Transaction{tx}, time.Now())
		if err != nil {
			return err
		}
		if _, err := n.utxos.Reindex(); err != nil {
			return err
		}
		fmt.Printf("tx %s in block %d\n", tx.ID, block.Header.Height)
		return nil
	}),
}

var reindexCommand = &cli.Command{
	Name:  "reindex",
	Usage: "rebuild the UTXO index from the chain",
	Action: withNode(func(c *cli.Context, n *node) error {
		count, err := n.utxos.Reindex()
		if err != nil {
			return err
		}
		fmt.Printf("done: %d transactions in the UTXO index\n", count)
		return nil
	}),
}

var utxosCommand = &cli.Command{
	Name:  "utxos",
	Usage: "list indexed outputs owned by --owner",
	Flags: []cli.Flag{ownerFlag},
	Action: withNode(func(c *cli.Context, n *node) error {
		owner, err := parseKey(c.String("owner"))
		if err != nil {
			return err
		}
		utxos, report, err := n.utxos.FindUTXO(owner)
		if err != nil {
			return err
		}
		warnSkipped(n.logger, report)
		for _, out := range utxos {
			fmt.Printf("%s  output %d\n", out.Value, out.Index)
		}
		return nil
	}),
}

var balanceCommand = &cli.Command{
	Name:  "balance",
	Usage: "sum indexed outputs owned by --owner",
	Flags: []cli.Flag{ownerFlag},
	Action: withNode(func(c *cli.Context, n *node) error {
		owner, err := parseKey(c.String("owner"))
		if err != nil {
			return err
		}
		balance, report, err := n.utxos.Balance(owner)
		if err != nil {
			return err
		}
		warnSkipped(n.logger, report)
		fmt.Printf("balance of %s: %s\n", address.Hex(n.deriver.Derive(owner)), balance)
		return nil
	}),
}

var spendableCommand = &cli.Command{
	Name:  "spendable",
	Usage: "select outputs owned by --owner covering --amount",
	Flags: []cli.Flag{ownerFlag, amountFlag},
	Action: withNode(func(c *cli.Context, n *node) error {
		owner, err := parseKey(c.String("owner"))
		if err != nil {
			return err
		}
		amount, err := types.ParseAmount(c.String("amount"))
		if err != nil {
			return err
		}
		spendable, report, err := n.utxos.FindSpendableOutputs(owner, amount)
		if err != nil {
			return err
		}
		warnSkipped(n.logger, report)
		for _, op := range spendable.Outpoints() {
			fmt.Printf("%s:%d\n", op.TxID, op.Index)
		}
		fmt.Printf("selected %s of %s\n", spendable.Amount, amount)
		if spendable.Amount < amount {
			return wallet.ErrInsufficientFunds
		}
		return nil
	}),
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "rebuild the index and serve queries over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "listen address (overrides config)"},
		&cli.BoolFlag{Name: "mine", Usage: "produce blocks from queued transfers"},
		&cli.StringFlag{Name: "miner", Usage: "reward owner public key (hex, overrides config)"},
	},
	Action: withNode(func(c *cli.Context, n *node) error {
		if _, err := n.utxos.Reindex(); err != nil {
			if !errors.Is(err, blockchain.ErrChainNotInitialized) {
				return err
			}
			n.logger.Warn().Msg("chain has no genesis block yet; index is empty")
		}

		addr := n.cfg.RPC.Addr
		if c.IsSet("addr") {
			addr = c.String("addr")
		}
		pool := mempool.NewMempool(n.cfg.Miner.MempoolSize)
		server := rpc.NewServer(n.chain, n.utxos, n.logger, rpc.WithMempool(pool, n.deriver))

		if n.cfg.Miner.Enabled || c.Bool("mine") {
			ownerHex := n.cfg.Miner.Owner
			if c.IsSet("miner") {
				ownerHex = c.String("miner")
			}
			owner, err := parseKey(ownerHex)
			if err != nil {
				return errors.Wrap(err, "miner owner")
			}
			m := miner.NewMiner(n.chain, pool, n.utxos, n.deriver.Derive(owner),
				n.cfg.Miner.Interval, n.cfg.Miner.MaxBlockTxs, log.Component(n.logger, "miner"))
			m.Start()
			defer m.Stop()
		}

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(addr) }()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-sig:
		}

		n.logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}),
}
