package bitcoin

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/config"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const requestFailed = "bitcoin request failed"

// ErrRequest matches every failed JSON-RPC call (HTTP, timeout, connection).
var ErrRequest = apperr.Unavailable(requestFailed)

var defaultTimeout = 10 * time.Second

// BlockInfo describes a block by height.
type BlockInfo struct {
	Height int32
	Hash   chainhash.Hash
	Header []byte
	Time   time.Time
}

type rpc interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlockHeader(hash *chainhash.Hash) (*wire.BlockHeader, error)
}

// Client is a read-only gateway to a bitcoind/btcd JSON-RPC endpoint.
type Client struct {
	rpc     rpc
	timeout time.Duration
	log     zerolog.Logger
	closeFn func()
}

// Dial builds a client in HTTP POST mode. No connection is made until the
// first request.
func Dial(cfg config.BitcoinConfig, logger zerolog.Logger) (*Client, error) {
	conn := &rpcclient.ConnConfig{
		Host:         net.JoinHostPort(cfg.RPCHost, strconv.Itoa(cfg.RPCPort)),
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   !cfg.UseSSL,
	}
	if cfg.UseSSL && cfg.SSLCert != "" {
		pem, err := os.ReadFile(cfg.SSLCert)
		if err != nil {
			return nil, fmt.Errorf("read bitcoin rpc cert: %w", err)
		}
		conn.Certificates = pem
	}
	rc, err := rpcclient.New(conn, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	c := newClient(rc, logger)
	c.closeFn = rc.Shutdown
	return c, nil
}

func newClient(r rpc, logger zerolog.Logger) *Client {
	return &Client{rpc: r, timeout: defaultTimeout, log: logger}
}

func (c *Client) Close() {
	if c == nil || c.closeFn == nil {
		return
	}
	c.closeFn()
}

// GetBestBlockInfo returns the chain tip.
func (c *Client) GetBestBlockInfo(ctx context.Context) (BlockInfo, error) {
	count, err := call(ctx, c.timeout, c.rpc.GetBlockCount)
	if err != nil {
		c.log.Warn().Err(err).Msg("getblockcount failed")
		return BlockInfo{}, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	return c.GetBlockInfoByHeight(ctx, int32(count))
}

// GetBlockInfoByHeight resolves the hash and header at height.
func (c *Client) GetBlockInfoByHeight(ctx context.Context, height int32) (BlockInfo, error) {
	hash, err := call(ctx, c.timeout, func() (*chainhash.Hash, error) {
		return c.rpc.GetBlockHash(int64(height))
	})
	if err != nil {
		c.log.Warn().Err(err).Int32("height", height).Msg("getblockhash failed")
		return BlockInfo{}, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	header, err := call(ctx, c.timeout, func() (*wire.BlockHeader, error) {
		return c.rpc.GetBlockHeader(hash)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("hash", hash.String()).Msg("getblockheader failed")
		return BlockInfo{}, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		return BlockInfo{}, apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	return BlockInfo{
		Height: height,
		Hash:   header.BlockHash(),
		Header: buf.Bytes(),
		Time:   header.Timestamp,
	}, nil
}

// CheckNetwork verifies the node serves the chain selected by params.
func (c *Client) CheckNetwork(ctx context.Context, params squeak.Params) error {
	genesis, err := call(ctx, c.timeout, func() (*chainhash.Hash, error) {
		return c.rpc.GetBlockHash(0)
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
	}
	if !genesis.IsEqual(params.Chain.GenesisHash) {
		return apperr.FailedPrecondition(fmt.Sprintf("bitcoin node is not on %s", params.Name))
	}
	return nil
}

// call runs fn with a deadline. rpcclient has no context support, so an
// abandoned call finishes in the background.
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{val: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}
