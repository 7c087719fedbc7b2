package blockchain

import (
	"sync"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/pkg/errors"
)

var (
	ErrChainAlreadyInitialized = errors.New("chain is already initialized with genesis")
	ErrChainNotInitialized     = errors.New("chain not initialized: no genesis block")
	ErrBlockNotFound           = errors.New("block not found")
)

// outpoint names output Index of transaction TxID.
type outpoint struct {
	TxID  types.Hash
	Index uint32
}

// Chain is the ledger: an append-only list of blocks and the unspent-output
// state derived from them.
type Chain struct {
	mu           sync.RWMutex
	blocks       []*types.Block
	blocksByHash map[types.Hash]*types.Block
	txs          map[types.Hash]*types.Transaction
	spent        map[outpoint]types.Hash // spent output -> spending tx
	tip          *types.Block
	store        BlockStore
	deriver      address.Deriver
	reward       types.Amount
}

// NewChain returns a chain backed by store, replaying any blocks it already
// holds. A nil store keeps the chain in memory only.
func NewChain(store BlockStore, deriver address.Deriver, reward types.Amount) (*Chain, error) {
	c := &Chain{
		blocksByHash: make(map[types.Hash]*types.Block),
		txs:          make(map[types.Hash]*types.Transaction),
		spent:        make(map[outpoint]types.Hash),
		store:        store,
		deriver:      deriver,
		reward:       reward,
	}
	if store == nil {
		return c, nil
	}

	head, err := store.GetHead()
	if errors.Is(err, ErrBlockNotFoundInStore) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load chain head")
	}
	headBlock, err := store.GetBlockByHash(head)
	if err != nil {
		return nil, errors.Wrap(err, "load head block")
	}

	for h := uint64(0); h <= headBlock.Header.Height; h++ {
		block, err := store.GetBlockByHeight(h)
		if err != nil {
			return nil, errors.Wrapf(err, "load block %d", h)
		}
		if err := c.addBlockLocked(block, false); err != nil {
			return nil, errors.Wrapf(err, "replay block %d", h)
		}
	}
	return c, nil
}

// InitGenesis creates, validates, and adds the genesis block paying the
// block reward to owner.
func (c *Chain) InitGenesis(owner []byte, timestamp time.Time) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) > 0 {
		return nil, ErrChainAlreadyInitialized
	}

	coinbase := types.NewCoinbaseTx(owner, 0, c.reward, timestamp)
	block := types.NewBlock(nil, []*types.Transaction{coinbase}, timestamp)
	if err := c.addBlockLocked(block, true); err != nil {
		return nil, err
	}
	return block, nil
}

// AddBlock validates, persists and appends a block to the chain.
func (c *Chain) AddBlock(block *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(block, true)
}

func (c *Chain) addBlockLocked(block *types.Block, persist bool) error {
	if c.tip == nil {
		if err := ValidateGenesis(block, c.BlockReward(0)); err != nil {
			return err
		}
	} else if err := ValidateBlock(block, c.tip, c.BlockReward(block.Header.Height)); err != nil {
		return err
	}

	spends, err := c.validateSpends(block)
	if err != nil {
		return err
	}

	if persist && c.store != nil {
		if err := c.store.SaveBlock(block); err != nil {
			return err
		}
		if err := c.store.SaveHead(block.Hash); err != nil {
			return err
		}
	}

	for _, tx := range block.Transactions {
		c.txs[tx.ID] = tx
	}
	for op, by := range spends {
		c.spent[op] = by
	}
	c.blocks = append(c.blocks, block)
	c.blocksByHash[block.Hash] = block
	c.tip = block
	return nil
}

// validateSpends checks every input against the current unspent state and
// returns the outpoints the block consumes.
func (c *Chain) validateSpends(block *types.Block) (map[outpoint]types.Hash, error) {
	spends := make(map[outpoint]types.Hash)
	// Outputs created earlier in the same block may be spent by later txs.
	local := make(map[types.Hash]*types.Transaction)

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			local[tx.ID] = tx
			continue
		}

		var in types.Amount
		for _, input := range tx.Inputs {
			op := outpoint{TxID: input.TxID, Index: input.OutputIndex}
			prev, ok := c.txs[input.TxID]
			if !ok {
				prev, ok = local[input.TxID]
			}
			if !ok || int(input.OutputIndex) >= len(prev.Outputs) {
				return nil, errors.Wrapf(ErrMissingOutput, "%s:%d", input.TxID, input.OutputIndex)
			}
			if _, spent := c.spent[op]; spent {
				return nil, errors.Wrapf(ErrMissingOutput, "%s:%d already spent", input.TxID, input.OutputIndex)
			}
			if _, dup := spends[op]; dup {
				return nil, errors.Wrapf(ErrDoubleSpend, "%s:%d", input.TxID, input.OutputIndex)
			}

			prevOut := prev.Outputs[input.OutputIndex]
			if !address.Owns(c.deriver, input.PubKey, prevOut.OwnerCommitment) {
				return nil, errors.Wrapf(ErrWrongOwner, "%s:%d", input.TxID, input.OutputIndex)
			}
			spends[op] = tx.ID
			in += prevOut.Value
		}
		if tx.TotalOutput() > in {
			return nil, errors.Wrapf(ErrOutputsExceedInput, "tx %s: %d > %d", tx.ID, tx.TotalOutput(), in)
		}
		local[tx.ID] = tx
	}
	return spends, nil
}

// FilterValid splits txs into those that can be mined together on the
// current tip, kept in order, and the rejected rest keyed by id.
func (c *Chain) FilterValid(txs []*types.Transaction) ([]*types.Transaction, map[types.Hash]error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var valid []*types.Transaction
	rejected := make(map[types.Hash]error)
	for _, tx := range txs {
		if err := c.checkTransaction(valid, tx); err != nil {
			rejected[tx.ID] = err
			continue
		}
		valid = append(valid, tx)
	}
	return valid, rejected
}

// checkTransaction validates tx as if appended after accepted in a block.
func (c *Chain) checkTransaction(accepted []*types.Transaction, tx *types.Transaction) error {
	if tx.IsCoinbase() {
		return ErrInvalidCoinbasePos
	}
	if tx.ID != tx.ComputeID() {
		return errors.Wrapf(ErrInvalidTxID, "tx %s", tx.ID)
	}
	if err := validateOutputs(tx); err != nil {
		return err
	}
	candidate := &types.Block{Transactions: append(append([]*types.Transaction(nil), accepted...), tx)}
	_, err := c.validateSpends(candidate)
	return err
}

// FindUnspentOutputs returns, for every transaction with at least one unspent
// output, those outputs in their original order keyed by hex transaction id.
func (c *Chain) FindUnspentOutputs() (map[string]*types.OutputRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.tip == nil {
		return nil, ErrChainNotInitialized
	}

	utxos := make(map[string]*types.OutputRecord)
	for id, tx := range c.txs {
		var record *types.OutputRecord
		for _, out := range tx.Outputs {
			if _, spent := c.spent[outpoint{TxID: id, Index: out.Index}]; spent {
				continue
			}
			if record == nil {
				record = &types.OutputRecord{}
			}
			record.Outputs = append(record.Outputs, out)
		}
		if record != nil {
			utxos[id.Hex()] = record
		}
	}
	return utxos, nil
}

// Transaction returns a transaction by id.
func (c *Chain) Transaction(id types.Hash) (*types.Transaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.txs[id]
	return tx, ok
}

// GetBlockByHeight returns the block at the given height.
func (c *Chain) GetBlockByHeight(height uint64) (*types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if height >= uint64(len(c.blocks)) {
		return nil, ErrBlockNotFound
	}
	return c.blocks[height], nil
}

// GetBlockByHash returns the block with the given hash.
func (c *Chain) GetBlockByHash(hash types.Hash) (*types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	block, ok := c.blocksByHash[hash]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

// Tip returns the current chain tip.
func (c *Chain) Tip() *types.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// Height returns the height of the current chain tip. Returns 0 for empty chains.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tip == nil {
		return 0
	}
	return c.tip.Header.Height
}

// TotalSupply returns the total value minted up to the current chain tip.
func (c *Chain) TotalSupply() types.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tip == nil {
		return 0
	}
	return TotalSupplyAtHeight(c.tip.Header.Height, c.reward)
}

// Mint appends a block holding a coinbase to owner followed by txs.
func (c *Chain) Mint(owner []byte, txs []*types.Transaction, timestamp time.Time) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip == nil {
		return nil, ErrChainNotInitialized
	}
	height := c.tip.Header.Height + 1
	if !timestamp.After(c.tip.Header.Timestamp) {
		timestamp = c.tip.Header.Timestamp.Add(time.Second)
	}

	coinbase := types.NewCoinbaseTx(owner, height, c.reward, timestamp)
	block := types.NewBlock(c.tip, append([]*types.Transaction{coinbase}, txs...), timestamp)
	if err := c.addBlockLocked(block, true); err != nil {
		return nil, err
	}
	return block, nil
}
