package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

func TestMemoryCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	proj := &model.Project{ID: uuid.New(), Tier: model.TierEntry}

	err := m.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SaveProject(ctx, proj))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.ProjectCount())

	m.FailCommits = 1
	err = m.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveProject(ctx, proj)
	})
	require.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, m.ProjectCount())

	require.NoError(t, m.Commit(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveProject(ctx, proj)
	}))
	assert.Equal(t, 1, m.ProjectCount())
}

func TestMemoryWatchedAddresses(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	quoted := model.NewPayment(uuid.New())
	quoted.QuoteStartTime = &now
	quoted.Deposits[model.ChainETH] = &model.Deposit{Chain: model.ChainETH, Address: "0xA"}
	m.Seed(&model.Project{ID: quoted.ProjectID}, quoted)

	free := model.NewPayment(uuid.New())
	m.Seed(&model.Project{ID: free.ProjectID}, free)

	addrs, err := m.WatchedAddresses(ctx, model.ChainETH)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xA"}, addrs)

	pay, err := m.GetPaymentByAddress(ctx, model.CoinABLOCK, "0xa")
	require.NoError(t, err)
	assert.Equal(t, quoted.ProjectID, pay.ProjectID)

	_, err = m.GetPaymentByAddress(ctx, model.CoinAVAX, "0xa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
