package main

import (
	"github.com/chronodrachma/utxod/pkg/config"
	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/blockchain"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/core/utxo"
	"github.com/chronodrachma/utxod/pkg/log"
	"github.com/chronodrachma/utxod/pkg/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// node wires the stores, ledger and index for one command invocation.
type node struct {
	cfg     *config.Config
	logger  zerolog.Logger
	deriver address.Deriver
	chainKV storage.Store
	indexKV storage.Store
	chain   *blockchain.Chain
	utxos   *utxo.UTXOSet
}

func openNode(c *cli.Context) (*node, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.Bool("memory") {
		cfg.Store.InMemory = true
	}

	n := &node{
		cfg:     cfg,
		logger:  log.New(cfg.Log),
		deriver: address.NewKeccakDeriver(),
	}

	n.chainKV, err = storage.Open(cfg.Store, cfg.Store.ChainPath, n.logger)
	if err != nil {
		return nil, errors.Wrap(err, "open chain store")
	}
	n.indexKV, err = storage.Open(cfg.Store, cfg.Store.IndexPath, n.logger)
	if err != nil {
		n.chainKV.Close()
		return nil, errors.Wrap(err, "open index store")
	}

	n.chain, err = blockchain.NewChain(blockchain.NewKVBlockStore(n.chainKV), n.deriver, types.Amount(cfg.Network.BlockReward))
	if err != nil {
		n.Close()
		return nil, errors.Wrap(err, "load chain")
	}

	var opts []utxo.Option
	if cfg.Cache.Enabled {
		opts = append(opts, utxo.WithCache(cfg.Cache.TTL, cfg.Cache.Capacity))
	}
	n.utxos = utxo.New(n.indexKV, n.chain, n.deriver, n.logger, opts...)
	return n, nil
}

func (n *node) Close() {
	if n.indexKV != nil {
		if err := n.indexKV.Close(); err != nil {
			n.logger.Error().Err(err).Msg("close index store")
		}
	}
	if n.chainKV != nil {
		if err := n.chainKV.Close(); err != nil {
			n.logger.Error().Err(err).Msg("close chain store")
		}
	}
}

func warnSkipped(logger zerolog.Logger, report *utxo.ScanReport) {
	if report == nil || report.Complete() {
		return
	}
	logger.Warn().Int("skipped", len(report.Skipped)).Int("entries", report.Entries).
		Msg("some index entries could not be read; results may be incomplete")
}
