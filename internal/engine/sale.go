package engine

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// CreateOffer prices key for peer. The invoice pre-image is key+nonce, so
// paying it discloses the key to whoever knows the nonce.
func (e *Engine) CreateOffer(ctx context.Context, sq squeak.Squeak, key squeak.SecretKey, peer models.PeerAddress, priceMsat int64) (models.SentOffer, error) {
	if err := squeak.CheckSecretKey(sq, key); err != nil {
		return models.SentOffer{}, withCause(ErrInvalidSecretKey, err)
	}
	nonce, err := squeak.RandomScalar()
	if err != nil {
		return models.SentOffer{}, err
	}
	preimage := squeak.AddTweak(key, nonce)
	inv, err := e.ln.CreateInvoice(ctx, preimage, priceMsat)
	if err != nil {
		return models.SentOffer{}, err
	}
	offer := models.SentOffer{
		SqueakHash:     sq.Hash(),
		PaymentHash:    inv.PaymentHash,
		Nonce:          nonce,
		PriceMsat:      priceMsat,
		PaymentRequest: inv.PaymentRequest,
		InvoiceTime:    inv.CreationDate,
		InvoiceExpiry:  inv.Expiry,
		PeerAddress:    peer,
	}
	id, err := e.store.InsertSentOffer(ctx, offer)
	if err != nil {
		return models.SentOffer{}, err
	}
	if id != nil {
		offer.ID = *id
	}
	e.metrics.IncOffersCreated()
	e.log.Debug().Str("squeak", offer.SqueakHash.String()).Str("peer", peer.String()).Int64("price_msat", priceMsat).Msg("created offer")
	return offer, nil
}

// PackageOffer renders o for the wire with the advertised lightning endpoint.
func (e *Engine) PackageOffer(ctx context.Context, o models.SentOffer) (models.Offer, error) {
	host, port, err := e.lightningEndpoint(ctx)
	if err != nil {
		return models.Offer{}, err
	}
	return models.Offer{
		SqueakHash:     o.SqueakHash.String(),
		Nonce:          o.Nonce.String(),
		PaymentRequest: o.PaymentRequest,
		Host:           host,
		Port:           port,
	}, nil
}

func (e *Engine) lightningEndpoint(ctx context.Context) (string, int, error) {
	if e.cfg.LightningExternalHost != "" {
		return e.cfg.LightningExternalHost, e.cfg.LightningExternalPort, nil
	}
	info, err := e.ln.GetInfo(ctx)
	if err != nil {
		return "", 0, err
	}
	for _, uri := range info.URIs {
		if host, port, ok := parseNodeURI(uri); ok {
			return host, port, nil
		}
	}
	return "", 0, nil
}

// parseNodeURI splits "pubkey@host:port".
func parseNodeURI(uri string) (string, int, bool) {
	at := strings.LastIndex(uri, "@")
	if at < 0 {
		return "", 0, false
	}
	host, portStr, err := net.SplitHostPort(uri[at+1:])
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

// UnpackOffer checks an offer received from peer against sq and records it.
// An offer that is already recorded is returned without a new event.
func (e *Engine) UnpackOffer(ctx context.Context, sq squeak.Squeak, offer models.Offer, peer models.PeerAddress) (models.ReceivedOffer, error) {
	hash := sq.Hash()
	if offer.SqueakHash != hash.String() {
		return models.ReceivedOffer{}, ErrOfferMismatch
	}
	nonce, err := offer.DecodeNonce()
	if err != nil {
		return models.ReceivedOffer{}, withCause(ErrOfferMismatch, err)
	}
	payReq, err := e.ln.DecodePayReq(ctx, offer.PaymentRequest)
	if err != nil {
		return models.ReceivedOffer{}, err
	}
	if len(payReq.PaymentPoint) > 0 && !bytes.Equal(payReq.PaymentPoint, sq.PaymentPoint[:]) {
		return models.ReceivedOffer{}, ErrPaymentPointMismatch
	}
	received := models.ReceivedOffer{
		SqueakHash:             hash,
		PriceMsat:              payReq.NumMsat,
		PaymentHash:            payReq.PaymentHash,
		Nonce:                  nonce,
		PaymentPoint:           sq.PaymentPoint,
		InvoiceTimestamp:       payReq.Timestamp,
		InvoiceExpiry:          payReq.Expiry,
		PaymentRequest:         offer.PaymentRequest,
		SellerDestination:      payReq.Destination,
		SellerLightningAddress: models.LightningAddress{Host: offer.Host, Port: offer.Port},
		PeerAddress:            peer,
	}
	id, err := e.store.InsertReceivedOffer(ctx, received)
	if err != nil {
		return models.ReceivedOffer{}, err
	}
	if id == nil {
		return received, nil
	}
	received.ID = *id
	e.metrics.IncOffersReceived()
	e.bus.Publish(eventbus.NewReceivedOffer{Offer: received})
	return received, nil
}

// PayOffer pays the offer's invoice and derives the secret key from the
// returned pre-image. The SentPayment is persisted even when the key turns
// out invalid; in that case ErrInvalidDerivedKey is returned and the squeak
// stays locked.
func (e *Engine) PayOffer(ctx context.Context, offer models.ReceivedOffer) (models.SentPayment, error) {
	payment, err := e.ln.PayInvoice(ctx, offer.PaymentRequest)
	if err != nil {
		return models.SentPayment{}, err
	}
	if payment.Error != "" {
		e.log.Warn().Str("squeak", offer.SqueakHash.String()).Str("error", payment.Error).Msg("payment failed")
		return models.SentPayment{}, withCause(ErrPaymentFailed, paymentError(payment.Error))
	}
	var preimage [32]byte
	if len(payment.Preimage) != len(preimage) {
		e.log.Warn().Str("squeak", offer.SqueakHash.String()).Int("preimage_len", len(payment.Preimage)).Msg("payment returned a malformed preimage")
		return models.SentPayment{}, withCause(ErrPaymentFailed,
			paymentError(fmt.Sprintf("invalid preimage length %d", len(payment.Preimage))))
	}
	copy(preimage[:], payment.Preimage)
	key := squeak.SecretKey(squeak.SubTweak(preimage, offer.Nonce))
	point, err := squeak.PaymentPointOf(key)
	valid := err == nil && point == offer.PaymentPoint

	sent := models.SentPayment{
		SqueakHash:  offer.SqueakHash,
		PaymentHash: offer.PaymentHash,
		SecretKey:   key,
		PriceMsat:   offer.PriceMsat,
		NodePubkey:  offer.SellerDestination,
		Valid:       valid,
		PeerAddress: offer.PeerAddress,
	}
	id, err := e.store.InsertSentPayment(ctx, sent)
	if err != nil {
		return models.SentPayment{}, err
	}
	if id != nil {
		sent.ID = *id
	}
	e.metrics.IncPaymentsSent()
	if err := e.store.SetReceivedOfferPaid(ctx, offer.PaymentHash); err != nil {
		return sent, err
	}
	if !valid {
		e.log.Error().Str("squeak", offer.SqueakHash.String()).Str("seller", offer.SellerDestination).Msg("derived secret key is invalid")
		return sent, ErrInvalidDerivedKey
	}
	return sent, e.SaveSecretKey(ctx, offer.SqueakHash, key)
}

type paymentError string

func (e paymentError) Error() string { return string(e) }

// DeleteExpiredOffers drops sent and received offers past their retention.
func (e *Engine) DeleteExpiredOffers(ctx context.Context) (int64, int64, error) {
	sent, err := e.store.DeleteExpiredSentOffers(ctx, e.cfg.SentOfferRetentionS)
	if err != nil {
		return 0, 0, err
	}
	received, err := e.store.DeleteExpiredReceivedOffers(ctx, e.cfg.ReceivedOfferRetentionS)
	if err != nil {
		return sent, 0, err
	}
	return sent, received, nil
}

// DeleteOldSqueaks applies squeak retention.
func (e *Engine) DeleteOldSqueaks(ctx context.Context) (int64, error) {
	return e.store.DeleteOldSqueaks(ctx, e.cfg.SqueakRetention)
}
