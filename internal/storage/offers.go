package storage

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const sentOfferColumns = `sent_offer_id, created_time_ms, squeak_hash, payment_hash, nonce, price_msat,
	payment_request, invoice_time, invoice_expiry, peer_network, peer_host, peer_port, paid`

// InsertSentOffer stores o. A known payment hash yields (nil, nil).
func (s *Store) InsertSentOffer(ctx context.Context, o models.SentOffer) (*int64, error) {
	return s.insertReturningID(ctx, "store.InsertSentOffer.QueryRow: ",
		`INSERT INTO sent_offer (created_time_ms, squeak_hash, payment_hash, nonce, price_msat, payment_request, invoice_time, invoice_expiry, peer_network, peer_host, peer_port, paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING RETURNING sent_offer_id`,
		s.nowMs(), o.SqueakHash[:], o.PaymentHash[:], o.Nonce[:], o.PriceMsat, o.PaymentRequest,
		o.InvoiceTime, o.InvoiceExpiry, string(o.PeerAddress.Network), o.PeerAddress.Host, int(o.PeerAddress.Port), o.Paid)
}

// GetSentOfferByPaymentHash returns nil when no offer carries hash.
func (s *Store) GetSentOfferByPaymentHash(ctx context.Context, hash models.Hash32) (*models.SentOffer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sentOfferColumns+` FROM sent_offer WHERE payment_hash = $1`, hash[:])
	o, err := scanSentOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSentOfferByPaymentHash.Scan: ")
	}
	return &o, nil
}

func (s *Store) GetSentOffers(ctx context.Context, limit int) ([]models.SentOffer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sentOfferColumns+` FROM sent_offer ORDER BY sent_offer_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSentOffers.Query: ")
	}
	defer rows.Close()
	offers := []models.SentOffer{}
	for rows.Next() {
		o, err := scanSentOffer(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "store.GetSentOffers.Scan: ")
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSentOffers.Rows: ")
	}
	return offers, nil
}

func (s *Store) SetSentOfferPaid(ctx context.Context, paymentHash models.Hash32) error {
	return s.exec(ctx, "store.SetSentOfferPaid.Exec: ",
		`UPDATE sent_offer SET paid = TRUE WHERE payment_hash = $1`, paymentHash[:])
}

// DeleteExpiredSentOffers removes offers whose invoice expired more than
// retentionS seconds ago.
func (s *Store) DeleteExpiredSentOffers(ctx context.Context, retentionS int64) (int64, error) {
	return s.execCount(ctx, "store.DeleteExpiredSentOffers.Exec: ",
		`DELETE FROM sent_offer WHERE invoice_time + invoice_expiry + $1 < $2`,
		retentionS, s.now().Unix())
}

func scanSentOffer(row rowScanner) (models.SentOffer, error) {
	var (
		o                          models.SentOffer
		squeakHash, payHash, nonce []byte
		network                    string
		port                       int
	)
	err := row.Scan(&o.ID, &o.CreatedTimeMs, &squeakHash, &payHash, &nonce, &o.PriceMsat,
		&o.PaymentRequest, &o.InvoiceTime, &o.InvoiceExpiry, &network, &o.PeerAddress.Host, &port, &o.Paid)
	if err != nil {
		return models.SentOffer{}, err
	}
	if o.SqueakHash, err = squeak.HashFromBytes(squeakHash); err != nil {
		return models.SentOffer{}, err
	}
	copy(o.PaymentHash[:], payHash)
	copy(o.Nonce[:], nonce)
	o.PeerAddress.Network = models.Network(network)
	o.PeerAddress.Port = uint16(port)
	return o, nil
}

const receivedOfferColumns = `received_offer_id, created_time_ms, squeak_hash, price_msat, payment_hash, nonce,
	payment_point, invoice_timestamp, invoice_expiry, payment_request, destination, lightning_host,
	lightning_port, peer_network, peer_host, peer_port, paid`

// InsertReceivedOffer stores o. A known payment hash yields (nil, nil).
func (s *Store) InsertReceivedOffer(ctx context.Context, o models.ReceivedOffer) (*int64, error) {
	return s.insertReturningID(ctx, "store.InsertReceivedOffer.QueryRow: ",
		`INSERT INTO received_offer (created_time_ms, squeak_hash, price_msat, payment_hash, nonce, payment_point, invoice_timestamp, invoice_expiry, payment_request, destination, lightning_host, lightning_port, peer_network, peer_host, peer_port, paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING RETURNING received_offer_id`,
		s.nowMs(), o.SqueakHash[:], o.PriceMsat, o.PaymentHash[:], o.Nonce[:], o.PaymentPoint[:],
		o.InvoiceTimestamp, o.InvoiceExpiry, o.PaymentRequest, o.SellerDestination,
		o.SellerLightningAddress.Host, o.SellerLightningAddress.Port,
		string(o.PeerAddress.Network), o.PeerAddress.Host, int(o.PeerAddress.Port), o.Paid)
}

func (s *Store) GetReceivedOffer(ctx context.Context, id int64) (*models.ReceivedOffer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receivedOfferColumns+` FROM received_offer WHERE received_offer_id = $1`, id)
	o, err := scanReceivedOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetReceivedOffer.Scan: ")
	}
	return &o, nil
}

// GetReceivedOffers lists unpaid offers for hash whose invoices have not expired.
func (s *Store) GetReceivedOffers(ctx context.Context, hash squeak.Hash) ([]models.ReceivedOffer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receivedOfferColumns+` FROM received_offer
		WHERE squeak_hash = $1 AND NOT paid AND invoice_timestamp + invoice_expiry > $2
		ORDER BY price_msat, received_offer_id`,
		hash[:], s.now().Unix())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetReceivedOffers.Query: ")
	}
	defer rows.Close()
	offers := []models.ReceivedOffer{}
	for rows.Next() {
		o, err := scanReceivedOffer(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "store.GetReceivedOffers.Scan: ")
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetReceivedOffers.Rows: ")
	}
	return offers, nil
}

func (s *Store) SetReceivedOfferPaid(ctx context.Context, paymentHash models.Hash32) error {
	return s.exec(ctx, "store.SetReceivedOfferPaid.Exec: ",
		`UPDATE received_offer SET paid = TRUE WHERE payment_hash = $1`, paymentHash[:])
}

func (s *Store) DeleteExpiredReceivedOffers(ctx context.Context, retentionS int64) (int64, error) {
	return s.execCount(ctx, "store.DeleteExpiredReceivedOffers.Exec: ",
		`DELETE FROM received_offer WHERE invoice_timestamp + invoice_expiry + $1 < $2`,
		retentionS, s.now().Unix())
}

func scanReceivedOffer(row rowScanner) (models.ReceivedOffer, error) {
	var (
		o                                 models.ReceivedOffer
		squeakHash, payHash, nonce, point []byte
		network                           string
		port                              int
	)
	err := row.Scan(&o.ID, &o.CreatedTimeMs, &squeakHash, &o.PriceMsat, &payHash, &nonce,
		&point, &o.InvoiceTimestamp, &o.InvoiceExpiry, &o.PaymentRequest, &o.SellerDestination,
		&o.SellerLightningAddress.Host, &o.SellerLightningAddress.Port,
		&network, &o.PeerAddress.Host, &port, &o.Paid)
	if err != nil {
		return models.ReceivedOffer{}, err
	}
	if o.SqueakHash, err = squeak.HashFromBytes(squeakHash); err != nil {
		return models.ReceivedOffer{}, err
	}
	if o.PaymentPoint, err = squeak.PaymentPointFromBytes(point); err != nil {
		return models.ReceivedOffer{}, err
	}
	copy(o.PaymentHash[:], payHash)
	copy(o.Nonce[:], nonce)
	o.PeerAddress.Network = models.Network(network)
	o.PeerAddress.Port = uint16(port)
	return o, nil
}
