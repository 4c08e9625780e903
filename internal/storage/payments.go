package storage

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const receivedPaymentColumns = `received_payment_id, created_time_ms, squeak_hash, payment_hash, price_msat,
	settle_index, peer_network, peer_host, peer_port`

// InsertReceivedPayment stores p. A known payment hash yields (nil, nil).
func (s *Store) InsertReceivedPayment(ctx context.Context, p models.ReceivedPayment) (*int64, error) {
	return s.insertReturningID(ctx, "store.InsertReceivedPayment.QueryRow: ",
		`INSERT INTO received_payment (created_time_ms, squeak_hash, payment_hash, price_msat, settle_index, peer_network, peer_host, peer_port)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING RETURNING received_payment_id`,
		s.nowMs(), p.SqueakHash[:], p.PaymentHash[:], p.PriceMsat, int64(p.SettleIndex),
		string(p.PeerAddress.Network), p.PeerAddress.Host, int(p.PeerAddress.Port))
}

// GetLatestSettleIndex returns the highest recorded settle index, 0 when none.
func (s *Store) GetLatestSettleIndex(ctx context.Context) (uint64, error) {
	var idx int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(settle_index), 0) FROM received_payment`).Scan(&idx); err != nil {
		return 0, pkgerrors.Wrap(err, "store.GetLatestSettleIndex.QueryRow: ")
	}
	return uint64(idx), nil
}

// SetReceivedPaymentSettleIndex raises the settle index of an already
// recorded payment, so a replay after ClearReceivedPaymentSettleIndices moves
// the resume point forward again.
func (s *Store) SetReceivedPaymentSettleIndex(ctx context.Context, hash models.Hash32, index uint64) error {
	return s.exec(ctx, "store.SetReceivedPaymentSettleIndex.Exec: ",
		`UPDATE received_payment SET settle_index = $1 WHERE payment_hash = $2 AND settle_index < $1`,
		int64(index), hash[:])
}

// ClearReceivedPaymentSettleIndices resets every settle index to 0 so the
// ledger replays from the start.
func (s *Store) ClearReceivedPaymentSettleIndices(ctx context.Context) error {
	return s.exec(ctx, "store.ClearReceivedPaymentSettleIndices.Exec: ",
		`UPDATE received_payment SET settle_index = 0`)
}

func (s *Store) GetReceivedPayments(ctx context.Context, limit int) ([]models.ReceivedPayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receivedPaymentColumns+` FROM received_payment ORDER BY received_payment_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetReceivedPayments.Query: ")
	}
	defer rows.Close()
	payments := []models.ReceivedPayment{}
	for rows.Next() {
		var (
			p                   models.ReceivedPayment
			squeakHash, payHash []byte
			settleIndex         int64
			network             string
			port                int
		)
		if err := rows.Scan(&p.ID, &p.CreatedTimeMs, &squeakHash, &payHash, &p.PriceMsat,
			&settleIndex, &network, &p.PeerAddress.Host, &port); err != nil {
			return nil, pkgerrors.Wrap(err, "store.GetReceivedPayments.Scan: ")
		}
		if p.SqueakHash, err = squeak.HashFromBytes(squeakHash); err != nil {
			return nil, pkgerrors.Wrap(err, "store.GetReceivedPayments.Decode: ")
		}
		copy(p.PaymentHash[:], payHash)
		p.SettleIndex = uint64(settleIndex)
		p.PeerAddress.Network = models.Network(network)
		p.PeerAddress.Port = uint16(port)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetReceivedPayments.Rows: ")
	}
	return payments, nil
}

const sentPaymentColumns = `sent_payment_id, created_time_ms, peer_network, peer_host, peer_port, squeak_hash,
	payment_hash, secret_key, price_msat, node_pubkey, valid`

// InsertSentPayment stores p. A known payment hash yields (nil, nil).
func (s *Store) InsertSentPayment(ctx context.Context, p models.SentPayment) (*int64, error) {
	return s.insertReturningID(ctx, "store.InsertSentPayment.QueryRow: ",
		`INSERT INTO sent_payment (created_time_ms, peer_network, peer_host, peer_port, squeak_hash, payment_hash, secret_key, price_msat, node_pubkey, valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING RETURNING sent_payment_id`,
		s.nowMs(), string(p.PeerAddress.Network), p.PeerAddress.Host, int(p.PeerAddress.Port),
		p.SqueakHash[:], p.PaymentHash[:], p.SecretKey[:], p.PriceMsat, p.NodePubkey, p.Valid)
}

func (s *Store) GetSentPayments(ctx context.Context, limit int) ([]models.SentPayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sentPaymentColumns+` FROM sent_payment ORDER BY sent_payment_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSentPayments.Query: ")
	}
	defer rows.Close()
	payments := []models.SentPayment{}
	for rows.Next() {
		var (
			p                        models.SentPayment
			squeakHash, payHash, key []byte
			network                  string
			port                     int
		)
		if err := rows.Scan(&p.ID, &p.CreatedTimeMs, &network, &p.PeerAddress.Host, &port, &squeakHash,
			&payHash, &key, &p.PriceMsat, &p.NodePubkey, &p.Valid); err != nil {
			return nil, pkgerrors.Wrap(err, "store.GetSentPayments.Scan: ")
		}
		if p.SqueakHash, err = squeak.HashFromBytes(squeakHash); err != nil {
			return nil, pkgerrors.Wrap(err, "store.GetSentPayments.Decode: ")
		}
		copy(p.PaymentHash[:], payHash)
		copy(p.SecretKey[:], key)
		p.PeerAddress.Network = models.Network(network)
		p.PeerAddress.Port = uint16(port)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSentPayments.Rows: ")
	}
	return payments, nil
}

// GetPaymentSummary totals both sides of the ledger.
func (s *Store) GetPaymentSummary(ctx context.Context) (models.PaymentSummary, error) {
	var sum models.PaymentSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(price_msat), 0) FROM received_payment`,
	).Scan(&sum.NumReceivedPayments, &sum.AmountEarnedMsat)
	if err != nil {
		return sum, pkgerrors.Wrap(err, "store.GetPaymentSummary.Received: ")
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(price_msat), 0) FROM sent_payment`,
	).Scan(&sum.NumSentPayments, &sum.AmountSpentMsat)
	if err != nil {
		return sum, pkgerrors.Wrap(err, "store.GetPaymentSummary.Sent: ")
	}
	return sum, nil
}
