package bitcoin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

type fakeRPC struct {
	headers map[int64]*wire.BlockHeader
	tip     int64
	err     error
	delay   time.Duration
}

func newFakeRPC(n int) *fakeRPC {
	f := &fakeRPC{headers: make(map[int64]*wire.BlockHeader)}
	prev := chainhash.Hash{}
	for i := 0; i < n; i++ {
		h := &wire.BlockHeader{
			Version:   1,
			PrevBlock: prev,
			Timestamp: time.Unix(int64(1_600_000_000+i*600), 0),
			Nonce:     uint32(i),
		}
		f.headers[int64(i)] = h
		prev = h.BlockHash()
	}
	f.tip = int64(n - 1)
	return f
}

func (f *fakeRPC) GetBlockCount() (int64, error) {
	time.Sleep(f.delay)
	return f.tip, f.err
}

func (f *fakeRPC) GetBlockHash(height int64) (*chainhash.Hash, error) {
	if f.err != nil {
		return nil, f.err
	}
	h, ok := f.headers[height]
	if !ok {
		return nil, errors.New("block height out of range")
	}
	hash := h.BlockHash()
	return &hash, nil
}

func (f *fakeRPC) GetBlockHeader(hash *chainhash.Hash) (*wire.BlockHeader, error) {
	for _, h := range f.headers {
		if h.BlockHash() == *hash {
			return h, nil
		}
	}
	return nil, errors.New("block not found")
}

func TestGetBestBlockInfo(t *testing.T) {
	rpc := newFakeRPC(5)
	c := newClient(rpc, zerolog.Nop())
	info, err := c.GetBestBlockInfo(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Height)
	assert.Equal(t, rpc.headers[4].BlockHash(), info.Hash)
	assert.Len(t, info.Header, wire.MaxBlockHeaderPayload)
}

func TestGetBlockInfoByHeightUnknown(t *testing.T) {
	c := newClient(newFakeRPC(2), zerolog.Nop())
	_, err := c.GetBlockInfoByHeight(context.Background(), 10)
	assert.ErrorIs(t, err, ErrRequest)
}

func TestRequestErrorsAreClassified(t *testing.T) {
	rpc := newFakeRPC(1)
	rpc.err = errors.New("connection refused")
	c := newClient(rpc, zerolog.Nop())
	_, err := c.GetBestBlockInfo(context.Background())
	assert.ErrorIs(t, err, ErrRequest)
}

func TestTimeoutIsRequestError(t *testing.T) {
	rpc := newFakeRPC(1)
	rpc.delay = 200 * time.Millisecond
	c := newClient(rpc, zerolog.Nop())
	c.timeout = 10 * time.Millisecond
	_, err := c.GetBestBlockInfo(context.Background())
	assert.ErrorIs(t, err, ErrRequest)
}

func TestCheckNetwork(t *testing.T) {
	rpc := newFakeRPC(1)
	genesis := *chaincfg.RegressionNetParams.GenesisBlock
	rpc.headers[0] = &genesis.Header
	c := newClient(rpc, zerolog.Nop())
	require.NoError(t, c.CheckNetwork(context.Background(), squeak.RegTestParams))
	assert.Error(t, c.CheckNetwork(context.Background(), squeak.MainNetParams))
}
