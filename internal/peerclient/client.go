// Package peerclient fetches squeaks, secret keys and offers from other
// nodes over the peer HTTP protocol.
package peerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"golang.org/x/net/proxy"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
	requestFailed   = "peer request failed"
)

var (
	ErrPaymentRequired = apperr.PaymentRequired("peer requires payment for secret key")
	ErrRequest         = apperr.Unavailable(requestFailed)
	ErrNoTorProxy      = apperr.FailedPrecondition("tor proxy is not configured")
)

type Options struct {
	Timeout           time.Duration
	RequestsPerSecond int
	// TorProxyAddr is the SOCKS5 endpoint for TORV3 peers; empty disables them.
	TorProxyAddr string
}

type Client struct {
	direct  *http.Client
	tor     *http.Client
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		direct:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewUnlimited(),
		log:     logger.With().Str("component", "peerclient").Logger(),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = ratelimit.New(opts.RequestsPerSecond)
	}
	if opts.TorProxyAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.TorProxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("tor proxy %s: %w", opts.TorProxyAddr, err)
		}
		transport := &http.Transport{Dial: dialer.Dial}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		}
		c.tor = &http.Client{Timeout: timeout, Transport: transport}
	}
	return c, nil
}

func (c *Client) httpClient(addr models.PeerAddress) (*http.Client, error) {
	if addr.Network == models.NetworkTorV3 {
		if c.tor == nil {
			return nil, ErrNoTorProxy
		}
		return c.tor, nil
	}
	return c.direct, nil
}

// get returns the body of a 200 response, or the status alone otherwise.
func (c *Client) get(ctx context.Context, addr models.PeerAddress, path string, query url.Values) ([]byte, int, error) {
	hc, err := c.httpClient(addr)
	if err != nil {
		return nil, 0, err
	}
	u := url.URL{Scheme: "http", Host: addr.String(), Path: path, RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	c.limiter.Take()
	resp, err := hc.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("peer", addr.String()).Str("path", path).Msg("peer request failed")
		return nil, 0, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	return body, resp.StatusCode, nil
}

func unexpectedStatus(status int) error {
	return apperr.Wrap(apperr.CodeUnavailable, requestFailed, fmt.Errorf("unexpected status %d", status))
}

// GetSqueak returns nil when the peer does not have the squeak.
func (c *Client) GetSqueak(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (*squeak.Squeak, error) {
	body, status, err := c.get(ctx, addr, "/squeak/"+hash.String(), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, unexpectedStatus(status)
	}
	sq, err := squeak.Deserialize(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	if sq.Hash() != hash {
		return nil, apperr.Wrap(apperr.CodeUnavailable, requestFailed, fmt.Errorf("peer returned squeak %s", sq.Hash()))
	}
	return &sq, nil
}

// GetSecretKey returns nil when the peer has no key, and ErrPaymentRequired
// when the key is for sale.
func (c *Client) GetSecretKey(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (*squeak.SecretKey, error) {
	body, status, err := c.get(ctx, addr, "/secretkey/"+hash.String(), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusPaymentRequired:
		return nil, ErrPaymentRequired
	default:
		return nil, unexpectedStatus(status)
	}
	key, err := squeak.SecretKeyFromBytes(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	return &key, nil
}

// GetOffer returns nil when the peer will not sell the key.
func (c *Client) GetOffer(ctx context.Context, addr models.PeerAddress, hash squeak.Hash) (*models.Offer, error) {
	body, status, err := c.get(ctx, addr, "/offer/"+hash.String(), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, unexpectedStatus(status)
	}
	var offer models.Offer
	if err := json.Unmarshal(body, &offer); err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	return &offer, nil
}

// Lookup lists the peer's squeaks by authors within [minBlock, maxBlock].
func (c *Client) Lookup(ctx context.Context, addr models.PeerAddress, authors []squeak.PubKey, minBlock, maxBlock int32) ([]squeak.Hash, error) {
	q := url.Values{}
	for _, a := range authors {
		q.Add("pubkeys", a.String())
	}
	q.Set("minblock", strconv.Itoa(int(minBlock)))
	q.Set("maxblock", strconv.Itoa(int(maxBlock)))
	body, status, err := c.get(ctx, addr, "/lookup", q)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, unexpectedStatus(status)
	}
	var hashes []squeak.Hash
	if err := json.Unmarshal(body, &hashes); err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	return hashes, nil
}
