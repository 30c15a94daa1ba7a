package indexer

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nhbmarket/core"
	"nhbmarket/core/events"
	"nhbmarket/core/genesis"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/native/marketplace"
	"nhbmarket/storage"
)

func openTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	ix, err := Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func sealedRecords(t *testing.T, evts ...*types.Event) []events.Record {
	t.Helper()
	log, err := events.OpenLog(storage.NewMemDB())
	require.NoError(t, err)
	records, err := log.Append(evts...)
	require.NoError(t, err)
	return records
}

func TestApplyProjectsProducts(t *testing.T) {
	ix := openTestIndexer(t)
	ctx := context.Background()
	seller := [20]byte{1}
	buyer := [20]byte{2}

	product := &marketplace.Product{ID: 1, Name: "phone", Price: big.NewInt(1000), Owner: seller}
	purchased := product.Clone()
	purchased.Owner = buyer
	purchased.Purchased = true
	records := sealedRecords(t, marketplace.NewCreatedEvent(product), marketplace.NewPurchasedEvent(purchased))

	require.NoError(t, ix.Apply(ctx, records[0]))
	got, err := ix.Product(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "phone", got.Name)
	require.Equal(t, "1000", got.Price)
	require.False(t, got.Purchased)
	require.Equal(t, crypto.FromRaw(seller).String(), got.Owner)

	require.NoError(t, ix.Apply(ctx, records[1]))
	require.NoError(t, ix.Apply(ctx, records[1]), "replays are ignored")
	got, err = ix.Product(ctx, 1)
	require.NoError(t, err)
	require.True(t, got.Purchased)
	require.Equal(t, crypto.FromRaw(buyer).String(), got.Owner)
	require.Equal(t, uint64(1), got.ListedSeq)
	require.Equal(t, uint64(2), got.UpdatedSeq)

	cursor, err := ix.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cursor)

	owned, err := ix.ProductsByOwner(ctx, crypto.FromRaw(buyer).String())
	require.NoError(t, err)
	require.Len(t, owned, 1)

	_, err = ix.Product(ctx, 7)
	require.ErrorIs(t, err, marketplace.ErrNotFound)
}

func TestRunFollowsNode(t *testing.T) {
	sellerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyer := buyerKey.PubKey().Address()

	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf("genesisTime: \"2024-01-01T00:00:00Z\"\nalloc:\n  %s: \"3 ether\"\n", buyer)))
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), core.WithGenesis(spec))
	require.NoError(t, err)

	listTx, err := types.NewListProductTx(node.ChainID(), 0, "lamp", big.NewInt(500))
	require.NoError(t, err)
	require.NoError(t, listTx.Sign(sellerKey.PrivateKey))
	_, err = node.ApplyTransaction(listTx)
	require.NoError(t, err)

	ix := openTestIndexer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx, node) }()

	require.Eventually(t, func() bool {
		p, err := ix.Product(context.Background(), 1)
		return err == nil && !p.Purchased
	}, 5*time.Second, 20*time.Millisecond)

	buyTx, err := types.NewPurchaseProductTx(node.ChainID(), 0, 1, big.NewInt(500))
	require.NoError(t, err)
	require.NoError(t, buyTx.Sign(buyerKey.PrivateKey))
	_, err = node.ApplyTransaction(buyTx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, err := ix.Product(context.Background(), 1)
		return err == nil && p.Purchased && p.Owner == buyer.String()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	cursor, err := ix.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, node.EventHead(), cursor)
}
