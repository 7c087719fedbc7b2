package blockchain

import "github.com/chronodrachma/utxod/pkg/core/types"

// BlockReward returns the coinbase value for a block at the given height.
// The reward is flat: there is no halving schedule.
func (c *Chain) BlockReward(height uint64) types.Amount {
	return c.reward
}

// TotalSupplyAtHeight returns the total value minted after the given block
// height with a flat reward: (height + 1) * reward.
func TotalSupplyAtHeight(height uint64, reward types.Amount) types.Amount {
	return types.Amount((height + 1) * uint64(reward))
}
