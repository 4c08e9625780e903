package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/yzernik/squeakroad-sub000/internal/config"
)

type macaroonCredential string

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": string(m)}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool { return true }

// LNDClient talks to lnd over gRPC.
type LNDClient struct {
	ln     lnrpc.LightningClient
	conn   *grpc.ClientConn
	expiry int64
	log    zerolog.Logger
}

// DialLND connects with the node's TLS cert and macaroon.
func DialLND(cfg config.LightningConfig, invoiceExpiryS int64, logger zerolog.Logger) (*LNDClient, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.LNDTLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("load lnd tls cert: %w", err)
	}
	mac, err := os.ReadFile(cfg.LNDMacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read lnd macaroon: %w", err)
	}
	addr := net.JoinHostPort(cfg.LNDRPCHost, strconv.Itoa(cfg.LNDRPCPort))
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macaroonCredential(hex.EncodeToString(mac))),
	)
	if err != nil {
		return nil, requestError(err)
	}
	c := newLNDClient(lnrpc.NewLightningClient(conn), invoiceExpiryS, logger)
	c.conn = conn
	return c, nil
}

func newLNDClient(ln lnrpc.LightningClient, invoiceExpiryS int64, logger zerolog.Logger) *LNDClient {
	return &LNDClient{ln: ln, expiry: invoiceExpiryS, log: logger}
}

func (c *LNDClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *LNDClient) CreateInvoice(ctx context.Context, preimage [32]byte, amountMsat int64) (Invoice, error) {
	resp, err := c.ln.AddInvoice(ctx, &lnrpc.Invoice{
		RPreimage: preimage[:],
		ValueMsat: amountMsat,
		Expiry:    c.expiry,
	})
	if err != nil {
		return Invoice{}, requestError(err)
	}
	inv, err := c.ln.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: resp.RHash})
	if err != nil {
		return Invoice{}, requestError(err)
	}
	out := convertInvoice(inv)
	out.PaymentRequest = resp.PaymentRequest
	copy(out.PaymentHash[:], resp.RHash)
	return out, nil
}

func (c *LNDClient) DecodePayReq(ctx context.Context, paymentRequest string) (PayReq, error) {
	resp, err := c.ln.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: paymentRequest})
	if err != nil {
		return PayReq{}, requestError(err)
	}
	hash, err := decodeHash(resp.PaymentHash)
	if err != nil {
		return PayReq{}, requestError(err)
	}
	return PayReq{
		PaymentHash: hash,
		NumMsat:     resp.NumMsat,
		Destination: resp.Destination,
		Timestamp:   resp.Timestamp,
		Expiry:      resp.Expiry,
	}, nil
}

func (c *LNDClient) PayInvoice(ctx context.Context, paymentRequest string) (Payment, error) {
	resp, err := c.ln.SendPaymentSync(ctx, &lnrpc.SendRequest{PaymentRequest: paymentRequest})
	if err != nil {
		return Payment{}, requestError(err)
	}
	return Payment{
		Preimage:    resp.PaymentPreimage,
		PaymentHash: resp.PaymentHash,
		Error:       resp.PaymentError,
	}, nil
}

func (c *LNDClient) SubscribeInvoices(ctx context.Context, settleIndex uint64) (*InvoiceStream, error) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := c.ln.SubscribeInvoices(sctx, &lnrpc.InvoiceSubscription{SettleIndex: settleIndex})
	if err != nil {
		cancel()
		return nil, subscriptionError(err)
	}
	recv := func() (Invoice, error) {
		inv, err := stream.Recv()
		if err != nil {
			return Invoice{}, err
		}
		return convertInvoice(inv), nil
	}
	return NewInvoiceStream(settleIndex, recv, cancel), nil
}

func (c *LNDClient) GetInfo(ctx context.Context) (Info, error) {
	resp, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return Info{}, requestError(err)
	}
	return Info{IdentityPubkey: resp.IdentityPubkey, URIs: resp.Uris}, nil
}

func convertInvoice(inv *lnrpc.Invoice) Invoice {
	out := Invoice{
		PaymentRequest: inv.PaymentRequest,
		ValueMsat:      inv.ValueMsat,
		CreationDate:   inv.CreationDate,
		Expiry:         inv.Expiry,
		SettleIndex:    inv.SettleIndex,
		Settled:        inv.State == lnrpc.Invoice_SETTLED,
	}
	copy(out.PaymentHash[:], inv.RHash)
	return out
}
