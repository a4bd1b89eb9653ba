package application_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/productcache/internal/application"
	"github.com/ericfisherdev/productcache/internal/domain/model"
)

func seedStale(f *productFixture, marketplace string, n int) {
	for i := range n {
		f.store.put(model.Product{
			Identifier:  fmt.Sprintf("B%s%07d", marketplace, i+1),
			Marketplace: marketplace,
			Title:       "stale",
			LastUpdated: baseTime.Add(-cacheDuration - time.Duration(i+1)*time.Minute),
		})
	}
}

func TestRefreshService_RefreshesStaleEntriesByMarketplace(t *testing.T) {
	f := newProductFixture(t, true, nil)
	seedStale(f, "US", 12)
	seedStale(f, "DE", 2)
	f.store.put(model.Product{Identifier: "B000FRESH1", Marketplace: "US", Title: "fresh", LastUpdated: baseTime})

	svc := application.NewRefreshService(f.cache, f.service, 50, nil)
	report, err := svc.RunReport(context.Background())

	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 14, report.Stale)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 14, report.Refreshed)

	require.Len(t, f.api.calls, 3)
	assert.Equal(t, "DE", f.api.calls[0].Marketplace)
	assert.Len(t, f.api.calls[0].Identifiers, 2)
	assert.Equal(t, "US", f.api.calls[1].Marketplace)
	assert.Len(t, f.api.calls[1].Identifiers, 10)
	assert.Len(t, f.api.calls[2].Identifiers, 2)
	assert.Equal(t, "BUS0000012", f.api.calls[1].Identifiers[0], "oldest entries go first")

	keys, err := f.cache.ListStale(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, keys, "refreshed entries are fresh again")
}

func TestRefreshService_AbortsOnFirstFailure(t *testing.T) {
	f := newProductFixture(t, true, nil)
	seedStale(f, "US", 3)
	seedStale(f, "DE", 3)
	f.api.getItems = func(context.Context, []string, string) ([]model.Product, error) {
		return nil, errBoom
	}

	svc := application.NewRefreshService(f.cache, f.service, 50, nil)
	report, err := svc.RunReport(context.Background())

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 0, report.Refreshed)
	require.Len(t, f.api.calls, 1, "later marketplaces are not attempted")
	assert.Equal(t, "DE", f.api.calls[0].Marketplace)
}

func TestRefreshService_UnreturnedEntriesDoNotStarveLaterRuns(t *testing.T) {
	f := newProductFixture(t, true, nil)
	f.store.put(model.Product{Identifier: "B0GONE0001", Marketplace: "US", Title: "delisted", LastUpdated: baseTime.Add(-72 * time.Hour)})
	f.store.put(model.Product{Identifier: "B0LIVE0001", Marketplace: "US", Title: "listed", LastUpdated: baseTime.Add(-48 * time.Hour)})
	f.api.getItems = func(_ context.Context, ids []string, mp string) ([]model.Product, error) {
		var listed []string
		for _, id := range ids {
			if id != "B0GONE0001" {
				listed = append(listed, id)
			}
		}
		return echoItems(listed, mp), nil
	}

	svc := application.NewRefreshService(f.cache, f.service, 1, nil)

	first, err := svc.RunReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.Refreshed)
	assert.Equal(t, 1, first.Unreturned)

	second, err := svc.RunReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Refreshed)

	require.Len(t, f.api.calls, 2)
	assert.Equal(t, []string{"B0GONE0001"}, f.api.calls[0].Identifiers)
	assert.Equal(t, []string{"B0LIVE0001"}, f.api.calls[1].Identifiers)

	gone, ok := f.store.get(model.ProductKey{Identifier: "B0GONE0001", Marketplace: "US"})
	require.True(t, ok)
	assert.Equal(t, baseTime.Add(-72*time.Hour), gone.LastUpdated, "unreturned entry keeps its data age")
}

func TestRefreshService_RespectsLimit(t *testing.T) {
	f := newProductFixture(t, true, nil)
	seedStale(f, "US", 8)

	svc := application.NewRefreshService(f.cache, f.service, 5, nil)
	report, err := svc.RunReport(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, report.Stale)
	require.Len(t, f.api.calls, 1)
	assert.Len(t, f.api.calls[0].Identifiers, 5)
}

func TestRefreshService_IdleRun(t *testing.T) {
	f := newProductFixture(t, true, nil)

	err := application.NewRefreshService(f.cache, f.service, 50, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, f.api.callCount())
}

func TestRefreshService_CanceledContext(t *testing.T) {
	f := newProductFixture(t, true, nil)
	seedStale(f, "US", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := application.NewRefreshService(f.cache, f.service, 50, nil).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.api.callCount())
}
