package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	responses map[string][]byte
	err       error
}

func (f *fakeCaller) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	for sig, out := range f.responses {
		if bytes.HasPrefix(data, []byte(sig)) {
			return out, nil
		}
	}
	return nil, errors.New("unexpected call")
}

func mustPackOutputs(t *testing.T, method string, fromPair bool, values ...interface{}) []byte {
	t.Helper()
	parsed := ERC20ABI
	if fromPair {
		parsed = PairABI
	}
	out, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestContractsBalanceOf(t *testing.T) {
	caller := &fakeCaller{responses: map[string][]byte{
		string(ERC20ABI.Methods["balanceOf"].ID): mustPackOutputs(t, "balanceOf", false, big.NewInt(123456789)),
		string(ERC20ABI.Methods["decimals"].ID):  mustPackOutputs(t, "decimals", false, uint8(8)),
	}}
	c := NewContracts(caller)

	bal, err := c.BalanceOf(context.Background(), common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), bal.Int64())

	dec, err := c.Decimals(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint8(8), dec)

	assert.True(t, ToDecimal(bal, int(dec)).Equal(decimal.RequireFromString("1.23456789")))
}

func TestContractsReserves(t *testing.T) {
	token0 := common.HexToAddress("0xaaaa")
	token1 := common.HexToAddress("0xbbbb")
	caller := &fakeCaller{responses: map[string][]byte{
		string(PairABI.Methods["getReserves"].ID): mustPackOutputs(t, "getReserves", true, big.NewInt(1000), big.NewInt(2000), uint32(7)),
		string(PairABI.Methods["token0"].ID):      mustPackOutputs(t, "token0", true, token0),
		string(PairABI.Methods["token1"].ID):      mustPackOutputs(t, "token1", true, token1),
	}}

	res, err := NewContracts(caller).Reserves(context.Background(), common.HexToAddress("0xcccc"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Reserve0.Int64())
	assert.Equal(t, int64(2000), res.Reserve1.Int64())
	assert.Equal(t, token0, res.Token0)
	assert.Equal(t, token1, res.Token1)
}

func TestContractsPropagatesCallErrors(t *testing.T) {
	c := NewContracts(&fakeCaller{err: errors.New("connection refused")})
	_, err := c.BalanceOf(context.Background(), common.Address{}, common.Address{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
