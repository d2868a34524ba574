package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pool event types published on the signal bus and recorded in the audit log.
const (
	EventPoolCreated        = "pool_created"
	EventMinted             = "minted"
	EventBurned             = "burned"
	EventSnapshotTaken      = "snapshot_taken"
	EventAwaitingSnapshot   = "awaiting_snapshot"
	EventClaimed            = "claimed"
	EventCreatorFeeWithdraw = "creator_fee_withdrawn"
	EventPriceFeedSet       = "price_feed_set"
	EventPoolArchived       = "pool_archived"
)

// Signal bus channels.
const (
	ChannelPools = "pools"
	ChannelFeeds = "price_feeds"
)

// PoolStream returns the durable stream name for a pool's events.
func PoolStream(poolID string) string {
	return "pool:" + poolID
}

// PoolEvent is the payload published for every pool state change. Pool is
// the state after the change.
type PoolEvent struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	PoolID common.Address  `json:"pool_id"`
	Actor  *common.Address `json:"actor,omitempty"`
	Side   Side            `json:"side,omitempty"`
	Amount *uint256.Int    `json:"amount,omitempty"` // deposit, payout, reward or fee
	Shares *uint256.Int    `json:"shares,omitempty"`
	Pool   *Pool           `json:"pool,omitempty"`
	At     int64           `json:"at"`
}
