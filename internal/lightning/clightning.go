package lightning

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CLightningClient speaks JSON-RPC 2.0 to Core Lightning over its unix socket.
// Each call opens a fresh connection.
type CLightningClient struct {
	socketPath string
	expiry     int64
	nextID     atomic.Uint64
	log        zerolog.Logger
}

func NewCLightningClient(socketPath string, invoiceExpiryS int64, logger zerolog.Logger) *CLightningClient {
	return &CLightningClient{socketPath: socketPath, expiry: invoiceExpiryS, log: logger}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("clightning rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call returns *rpcError unwrapped when the node rejected the request so
// callers can tell node-level failures from transport failures.
func (c *CLightningClient) call(ctx context.Context, method string, params any, out any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	var resp rpcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// msat accepts both the integer and the legacy "1000msat" encodings.
type msat int64

func (m *msat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	s = strings.TrimSuffix(s, "msat")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid msat amount %q", string(b))
	}
	*m = msat(v)
	return nil
}

type clnInvoice struct {
	PaymentHash string `json:"payment_hash"`
	Bolt11      string `json:"bolt11"`
	ExpiresAt   int64  `json:"expires_at"`
	Status      string `json:"status"`
	PayIndex    uint64 `json:"pay_index"`
	AmountMsat  msat   `json:"amount_msat"`
}

func (c *CLightningClient) CreateInvoice(ctx context.Context, preimage [32]byte, amountMsat int64) (Invoice, error) {
	params := map[string]any{
		"amount_msat": amountMsat,
		"label":       "squeak-" + uuid.NewString(),
		"description": "squeak secret key",
		"expiry":      c.expiry,
		"preimage":    hex.EncodeToString(preimage[:]),
	}
	var res clnInvoice
	if err := c.call(ctx, "invoice", params, &res); err != nil {
		return Invoice{}, requestError(err)
	}
	hash, err := decodeHash(res.PaymentHash)
	if err != nil {
		return Invoice{}, requestError(err)
	}
	return Invoice{
		PaymentHash:    hash,
		PaymentRequest: res.Bolt11,
		ValueMsat:      amountMsat,
		CreationDate:   res.ExpiresAt - c.expiry,
		Expiry:         c.expiry,
	}, nil
}

func (c *CLightningClient) DecodePayReq(ctx context.Context, paymentRequest string) (PayReq, error) {
	var res struct {
		Payee       string `json:"payee"`
		PaymentHash string `json:"payment_hash"`
		CreatedAt   int64  `json:"created_at"`
		Expiry      int64  `json:"expiry"`
		AmountMsat  msat   `json:"amount_msat"`
	}
	if err := c.call(ctx, "decodepay", map[string]any{"bolt11": paymentRequest}, &res); err != nil {
		return PayReq{}, requestError(err)
	}
	hash, err := decodeHash(res.PaymentHash)
	if err != nil {
		return PayReq{}, requestError(err)
	}
	return PayReq{
		PaymentHash: hash,
		NumMsat:     int64(res.AmountMsat),
		Destination: res.Payee,
		Timestamp:   res.CreatedAt,
		Expiry:      res.Expiry,
	}, nil
}

// PayInvoice reports node-side payment failures in Payment.Error.
func (c *CLightningClient) PayInvoice(ctx context.Context, paymentRequest string) (Payment, error) {
	var res struct {
		PaymentPreimage string `json:"payment_preimage"`
		PaymentHash     string `json:"payment_hash"`
		Status          string `json:"status"`
	}
	err := c.call(ctx, "pay", map[string]any{"bolt11": paymentRequest}, &res)
	if rerr, ok := err.(*rpcError); ok {
		return Payment{Error: rerr.Message}, nil
	}
	if err != nil {
		return Payment{}, requestError(err)
	}
	preimage, err := hex.DecodeString(res.PaymentPreimage)
	if err != nil {
		return Payment{}, requestError(err)
	}
	hash, _ := hex.DecodeString(res.PaymentHash)
	out := Payment{Preimage: preimage, PaymentHash: hash}
	if res.Status != "complete" {
		out.Error = "payment status " + res.Status
	}
	return out, nil
}

// SubscribeInvoices long-polls waitanyinvoice. Core Lightning's pay_index
// plays the role of the settle index.
func (c *CLightningClient) SubscribeInvoices(ctx context.Context, settleIndex uint64) (*InvoiceStream, error) {
	sctx, cancel := context.WithCancel(ctx)
	last := settleIndex
	recv := func() (Invoice, error) {
		var res clnInvoice
		if err := c.call(sctx, "waitanyinvoice", map[string]any{"lastpay_index": last}, &res); err != nil {
			return Invoice{}, err
		}
		hash, err := decodeHash(res.PaymentHash)
		if err != nil {
			return Invoice{}, err
		}
		last = res.PayIndex
		return Invoice{
			PaymentHash:    hash,
			PaymentRequest: res.Bolt11,
			ValueMsat:      int64(res.AmountMsat),
			CreationDate:   res.ExpiresAt - c.expiry,
			Expiry:         c.expiry,
			SettleIndex:    res.PayIndex,
			Settled:        res.Status == "paid",
		}, nil
	}
	return NewInvoiceStream(settleIndex, recv, cancel), nil
}

func (c *CLightningClient) GetInfo(ctx context.Context) (Info, error) {
	var res struct {
		ID      string `json:"id"`
		Address []struct {
			Type    string `json:"type"`
			Address string `json:"address"`
			Port    int    `json:"port"`
		} `json:"address"`
	}
	if err := c.call(ctx, "getinfo", map[string]any{}, &res); err != nil {
		return Info{}, requestError(err)
	}
	info := Info{IdentityPubkey: res.ID}
	for _, a := range res.Address {
		info.URIs = append(info.URIs, fmt.Sprintf("%s@%s", res.ID, net.JoinHostPort(a.Address, strconv.Itoa(a.Port))))
	}
	return info, nil
}
