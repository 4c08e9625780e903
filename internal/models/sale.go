package models

import (
	"encoding/hex"
	"time"

	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// SentOffer promises that paying PaymentRequest with pre-image p reveals
// p - Nonce mod n as the secret key for SqueakHash.
type SentOffer struct {
	ID             int64       `json:"id"`
	SqueakHash     squeak.Hash `json:"squeak_hash"`
	PaymentHash    Hash32      `json:"payment_hash"`
	Nonce          Hash32      `json:"nonce"`
	PriceMsat      int64       `json:"price_msat"`
	PaymentRequest string      `json:"payment_request"`
	InvoiceTime    int64       `json:"invoice_time"`
	InvoiceExpiry  int64       `json:"invoice_expiry"`
	PeerAddress    PeerAddress `json:"peer_address"`
	Paid           bool        `json:"paid"`
	CreatedTimeMs  int64       `json:"created_time_ms"`
}

// ExpiresAt is the invoice expiry instant.
func (o SentOffer) ExpiresAt() time.Time {
	return time.Unix(o.InvoiceTime+o.InvoiceExpiry, 0)
}

type ReceivedOffer struct {
	ID                     int64               `json:"id"`
	SqueakHash             squeak.Hash         `json:"squeak_hash"`
	PriceMsat              int64               `json:"price_msat"`
	PaymentHash            Hash32              `json:"payment_hash"`
	Nonce                  Hash32              `json:"nonce"`
	PaymentPoint           squeak.PaymentPoint `json:"payment_point"`
	InvoiceTimestamp       int64               `json:"invoice_timestamp"`
	InvoiceExpiry          int64               `json:"invoice_expiry"`
	PaymentRequest         string              `json:"payment_request"`
	SellerDestination      string              `json:"seller_destination"`
	SellerLightningAddress LightningAddress    `json:"seller_lightning_address"`
	PeerAddress            PeerAddress         `json:"peer_address"`
	Paid                   bool                `json:"paid"`
	CreatedTimeMs          int64               `json:"created_time_ms"`
}

func (o ReceivedOffer) ExpiresAt() time.Time {
	return time.Unix(o.InvoiceTimestamp+o.InvoiceExpiry, 0)
}

type ReceivedPayment struct {
	ID            int64       `json:"id"`
	SqueakHash    squeak.Hash `json:"squeak_hash"`
	PaymentHash   Hash32      `json:"payment_hash"`
	PriceMsat     int64       `json:"price_msat"`
	SettleIndex   uint64      `json:"settle_index"`
	PeerAddress   PeerAddress `json:"peer_address"`
	CreatedTimeMs int64       `json:"created_time_ms"`
}

type SentPayment struct {
	ID            int64            `json:"id"`
	SqueakHash    squeak.Hash      `json:"squeak_hash"`
	PaymentHash   Hash32           `json:"payment_hash"`
	SecretKey     squeak.SecretKey `json:"secret_key"`
	PriceMsat     int64            `json:"price_msat"`
	NodePubkey    string           `json:"node_pubkey"`
	Valid         bool             `json:"valid"`
	PeerAddress   PeerAddress      `json:"peer_address"`
	CreatedTimeMs int64            `json:"created_time_ms"`
}

// PaymentSummary aggregates both sides of the ledger.
type PaymentSummary struct {
	NumReceivedPayments int64 `json:"num_received_payments"`
	AmountEarnedMsat    int64 `json:"amount_earned_msat"`
	NumSentPayments     int64 `json:"num_sent_payments"`
	AmountSpentMsat     int64 `json:"amount_spent_msat"`
}

// Offer is the JSON body served at /offer/{hash}.
type Offer struct {
	SqueakHash     string `json:"squeak_hash"`
	Nonce          string `json:"nonce"`
	PaymentRequest string `json:"payment_request"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
}

// DecodeNonce parses the hex nonce.
func (o Offer) DecodeNonce() ([32]byte, error) {
	var n [32]byte
	raw, err := hex.DecodeString(o.Nonce)
	if err != nil {
		return n, err
	}
	if len(raw) != len(n) {
		return n, hex.ErrLength
	}
	copy(n[:], raw)
	return n, nil
}

// UserConfig is the per-user settings row.
type UserConfig struct {
	Username      string `json:"username"`
	SellPriceMsat *int64 `json:"sell_price_msat,omitempty"`
}

// DownloadResult reports a buy-side fetch. ElapsedTimeMs is reserved and not
// measured.
type DownloadResult struct {
	NumDownloaded int   `json:"num_downloaded"`
	NumPeers      int   `json:"num_peers"`
	ElapsedTimeMs int64 `json:"elapsed_time_ms"`
}

// Hash32 is a 32-byte value rendered as hex in JSON.
type Hash32 [32]byte

func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

func (h Hash32) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash32) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return hex.ErrLength
	}
	copy(h[:], raw)
	return nil
}
