package models

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// SqueakEntry is a squeak row hydrated for display.
type SqueakEntry struct {
	Hash            squeak.Hash    `json:"hash"`
	Author          squeak.PubKey  `json:"author"`
	Recipient       *squeak.PubKey `json:"recipient,omitempty"`
	BlockHeight     int32          `json:"block_height"`
	BlockHash       chainhash.Hash `json:"block_hash"`
	BlockTime       int64          `json:"block_time"`
	SqueakTime      int64          `json:"squeak_time"`
	ReplyTo         *squeak.Hash   `json:"reply_to,omitempty"`
	ResqueakedHash  *squeak.Hash   `json:"resqueaked_hash,omitempty"`
	Resqueaked      *SqueakEntry   `json:"resqueaked,omitempty"`
	IsUnlocked      bool           `json:"is_unlocked"`
	Content         *string        `json:"content,omitempty"`
	AuthorName      *string        `json:"author_name,omitempty"`
	RecipientName   *string        `json:"recipient_name,omitempty"`
	IsAuthorSigning bool           `json:"is_author_signing"`
	LikedTimeMs     *int64         `json:"liked_time_ms,omitempty"`
	CreatedTimeMs   int64          `json:"created_time_ms"`
}
