package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

var asOf = time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

func ago(d time.Duration) time.Time { return asOf.Add(-d) }

func TestMemoryStore_RecentTransactions(t *testing.T) {
	s := NewMemoryStore()
	s.AddTransaction(Record{TransactionID: "old", UserID: "u1", Amount: 10, Timestamp: ago(25 * time.Hour)})
	s.AddTransaction(Record{TransactionID: "a", UserID: "u1", Amount: 20, Timestamp: ago(3 * time.Hour)})
	s.AddTransaction(Record{TransactionID: "b", UserID: "u1", Amount: 30, Timestamp: ago(time.Hour)})
	s.AddTransaction(Record{TransactionID: "c", UserID: "u1", Amount: 40, Timestamp: ago(2 * time.Hour)})
	s.AddTransaction(Record{TransactionID: "other", UserID: "u2", Amount: 50, Timestamp: ago(time.Minute)})

	got, err := s.RecentTransactions(context.Background(), "u1", asOf, 24*time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].TransactionID)
	assert.Equal(t, "c", got[1].TransactionID)
}

func TestMemoryStore_WindowsExcludeRowsAfterAsOf(t *testing.T) {
	s := NewMemoryStore()
	s.AddTransaction(Record{TransactionID: "past", UserID: "u1", Amount: 20, MerchantCategory: "retail", Timestamp: ago(time.Hour)})
	s.AddTransaction(Record{TransactionID: "at", UserID: "u1", Amount: 40, MerchantCategory: "retail", Timestamp: asOf})
	s.AddTransaction(Record{TransactionID: "future", UserID: "u1", Amount: 900, MerchantCategory: "crypto", Timestamp: asOf.Add(time.Minute)})
	ctx := context.Background()

	txs, err := s.RecentTransactions(ctx, "u1", asOf, 24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "at", txs[0].TransactionID)
	assert.Equal(t, "past", txs[1].TransactionID)

	locs, err := s.RecentLocations(ctx, "u1", asOf, 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Len(t, locs, 2)

	b, err := s.Baseline(ctx, "u1", asOf, 24*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, 30.0, b.AvgAmount)
	assert.Equal(t, []string{"retail"}, b.Categories)
}

func TestMemoryStore_RecentLocationsFillsSentinels(t *testing.T) {
	s := NewMemoryStore()
	s.AddTransaction(Record{UserID: "u1", Timestamp: ago(time.Hour)})

	got, err := s.RecentLocations(context.Background(), "u1", asOf, 7*24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fraud.UnknownCity, got[0].Location.City)
	assert.Equal(t, fraud.UnknownCountry, got[0].Location.Country)
}

func TestMemoryStore_Merchant(t *testing.T) {
	s := NewMemoryStore()
	s.AddMerchant(Merchant{Name: "Amazon", FraudRate: 0.01, TotalTransactions: 5000}, []float32{1, 0})

	m, err := s.Merchant(context.Background(), "Amazon")
	require.NoError(t, err)
	assert.True(t, m.HasEmbedding)
	assert.Equal(t, int64(5000), m.TotalTransactions)

	_, err = s.Merchant(context.Background(), "Nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_CountFraudNarratives(t *testing.T) {
	s := NewMemoryStore()
	s.AddTransaction(Record{FraudLabel: true, Description: "CryptoX gambling fraud scam, suspicious transfer"})
	s.AddTransaction(Record{FraudLabel: false, Description: "CryptoX gambling fraud scam suspicious"})
	s.AddTransaction(Record{FraudLabel: true, Description: "CryptoX gambling refund"})

	n, err := s.CountFraudNarratives(context.Background(), "CryptoX gambling fraud scam suspicious")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_CountSimilarRiskyMerchants(t *testing.T) {
	s := NewMemoryStore()
	s.AddMerchant(Merchant{Name: "ShadyA", FraudRate: 0.5}, []float32{1, 0.1})
	s.AddMerchant(Merchant{Name: "ShadyB", FraudRate: 0.4}, []float32{1, 0.05})
	s.AddMerchant(Merchant{Name: "SafeLookalike", FraudRate: 0.01}, []float32{1, 0})
	s.AddMerchant(Merchant{Name: "ShadyFar", FraudRate: 0.9}, []float32{0, 1})
	s.AddMerchant(Merchant{Name: "NoVector", FraudRate: 0.9}, nil)

	n, err := s.CountSimilarRiskyMerchants(context.Background(), "ShadyA", 0.3, 0.7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only ShadyB: self excluded, safe and dissimilar ones filtered")

	n, err = s.CountSimilarRiskyMerchants(context.Background(), "NoVector", 0.3, 0.7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_Baseline(t *testing.T) {
	s := NewMemoryStore()
	s.AddTransaction(Record{UserID: "u1", Amount: 100, MerchantCategory: "retail", Timestamp: ago(24 * time.Hour)})
	s.AddTransaction(Record{UserID: "u1", Amount: 50, MerchantCategory: "grocery", Timestamp: ago(48 * time.Hour)})
	s.AddTransaction(Record{UserID: "u1", Amount: 900, MerchantCategory: "crypto", FraudLabel: true, Timestamp: ago(time.Hour)})
	s.AddTransaction(Record{UserID: "u1", Amount: 5000, MerchantCategory: "travel", Timestamp: ago(100 * 24 * time.Hour)})

	clean, err := s.Baseline(context.Background(), "u1", asOf, 90*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), clean.SampleSize)
	assert.InDelta(t, 75.0, clean.AvgAmount, 1e-9)
	assert.Equal(t, []string{"grocery", "retail"}, clean.Categories)

	all, err := s.Baseline(context.Background(), "u1", asOf, 90*24*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.SampleSize)
	assert.Contains(t, all.Categories, "crypto")

	none, err := s.Baseline(context.Background(), "ghost", asOf, 90*24*time.Hour, true)
	require.NoError(t, err)
	assert.Zero(t, none.SampleSize)
	assert.Zero(t, none.AvgAmount)
}

func TestMemoryStore_NearestTransactions(t *testing.T) {
	s := NewMemoryStore()
	s.AddTransaction(Record{TransactionID: "near", UserID: "u1", Embedding: []float32{1, 0.1}, FraudLabel: true})
	s.AddTransaction(Record{TransactionID: "far", UserID: "u1", Embedding: []float32{0, 1}})
	s.AddTransaction(Record{TransactionID: "mid", UserID: "u1", Embedding: []float32{1, 1}})
	s.AddTransaction(Record{TransactionID: "other-user", UserID: "u2", Embedding: []float32{1, 0}})
	s.AddTransaction(Record{TransactionID: "no-vector", UserID: "u1"})

	got, err := s.NearestTransactions(context.Background(), "u1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].TransactionID)
	assert.True(t, got[0].FraudLabel)
	assert.Equal(t, "mid", got[1].TransactionID)
}

func TestMemoryStore_NetworkCounts(t *testing.T) {
	s := NewMemoryStore()
	for _, u := range []string{"u1", "u2", "u3", "u3"} {
		s.AddTransaction(Record{UserID: u, DeviceFingerprint: "dev", Merchant: "M", Timestamp: ago(10 * time.Minute)})
	}
	s.AddTransaction(Record{UserID: "u4", DeviceFingerprint: "dev", Merchant: "M", Timestamp: ago(40 * 24 * time.Hour)})
	s.AddTransaction(Record{UserID: "u5", Merchant: "M", Timestamp: asOf.Add(30 * time.Minute)})
	s.AddTransaction(Record{UserID: "u6", Merchant: "M", Timestamp: asOf.Add(time.Hour)})

	ctx := context.Background()

	users, err := s.CountDeviceUsers(ctx, "dev", "u1", ago(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), users)

	merchantUsers, err := s.CountMerchantUsers(ctx, "M", ago(time.Hour), asOf.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), merchantUsers, "u1,u2,u3,u5; u6 sits exactly on the boundary")

	txns, err := s.CountDeviceTransactions(ctx, "dev", ago(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), txns)
}
