package history

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mbd888/fraudswarm/internal/embedding"
	"github.com/mbd888/fraudswarm/internal/fraud"
)

// Record is a stored historical transaction.
type Record struct {
	TransactionID     string
	UserID            string
	Amount            float64
	Merchant          string
	MerchantCategory  string
	Location          fraud.Location
	Timestamp         time.Time
	DeviceFingerprint string
	Description       string
	FraudLabel        bool
	Embedding         []float32
}

type merchantEntry struct {
	merchant  Merchant
	embedding []float32
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []Record
	merchants map[string]merchantEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{merchants: make(map[string]merchantEntry)}
}

// AddTransaction appends a historical transaction.
func (s *MemoryStore) AddTransaction(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Embedding = append([]float32(nil), r.Embedding...)
	s.records = append(s.records, r)
}

// AddMerchant inserts or replaces a merchant reputation record.
func (s *MemoryStore) AddMerchant(m Merchant, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.HasEmbedding = len(vec) > 0
	s.merchants[m.Name] = merchantEntry{merchant: m, embedding: append([]float32(nil), vec...)}
}

// userRecords returns the user's records in (since, ∞), newest first.
// Caller must hold s.mu.
// userRecords returns the user's records in (asOf-window, asOf], newest first.
func (s *MemoryStore) userRecords(userID string, asOf time.Time, window time.Duration) []Record {
	since := asOf.Add(-window)
	var out []Record
	for _, r := range s.records {
		if r.UserID == userID && r.Timestamp.After(since) && !r.Timestamp.After(asOf) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (s *MemoryStore) RecentTransactions(_ context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]RecentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.userRecords(userID, asOf, window)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]RecentTransaction, 0, len(recs))
	for _, r := range recs {
		out = append(out, RecentTransaction{TransactionID: r.TransactionID, Amount: r.Amount, Timestamp: r.Timestamp})
	}
	return out, nil
}

func (s *MemoryStore) RecentLocations(_ context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]RecentLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.userRecords(userID, asOf, window)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]RecentLocation, 0, len(recs))
	for _, r := range recs {
		loc := r.Location
		if loc.City == "" {
			loc.City = fraud.UnknownCity
		}
		if loc.Country == "" {
			loc.Country = fraud.UnknownCountry
		}
		out = append(out, RecentLocation{Location: loc, Timestamp: r.Timestamp})
	}
	return out, nil
}

func (s *MemoryStore) Merchant(_ context.Context, name string) (*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.merchants[name]
	if !ok {
		return nil, ErrNotFound
	}
	m := e.merchant
	return &m, nil
}

// CountFraudNarratives approximates full-text matching: every query term
// must appear as a word in the description. No stemming.
func (s *MemoryStore) CountFraudNarratives(_ context.Context, query string) (int64, error) {
	terms := words(query)
	if len(terms) == 0 {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if !r.FraudLabel {
			continue
		}
		have := make(map[string]bool)
		for _, w := range words(r.Description) {
			have[w] = true
		}
		matched := true
		for _, t := range terms {
			if !have[t] {
				matched = false
				break
			}
		}
		if matched {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountSimilarRiskyMerchants(_ context.Context, name string, minFraudRate, minSimilarity float64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.merchants[name]
	if !ok || len(current.embedding) == 0 {
		return 0, nil
	}

	var n int64
	for other, e := range s.merchants {
		if other == name || len(e.embedding) == 0 || e.merchant.FraudRate <= minFraudRate {
			continue
		}
		if embedding.Cosine(current.embedding, e.embedding) > minSimilarity {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Baseline(_ context.Context, userID string, asOf time.Time, window time.Duration, includeFraud bool) (*Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b     Baseline
		total float64
		seen  = make(map[string]bool)
	)
	for _, r := range s.userRecords(userID, asOf, window) {
		if r.FraudLabel && !includeFraud {
			continue
		}
		b.SampleSize++
		total += r.Amount
		if r.MerchantCategory != "" && !seen[r.MerchantCategory] {
			seen[r.MerchantCategory] = true
			b.Categories = append(b.Categories, r.MerchantCategory)
		}
	}
	if b.SampleSize > 0 {
		b.AvgAmount = total / float64(b.SampleSize)
	}
	sort.Strings(b.Categories)
	return &b, nil
}

func (s *MemoryStore) NearestTransactions(_ context.Context, userID string, vec []float32, limit int) ([]SimilarTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SimilarTransaction
	for _, r := range s.records {
		if r.UserID != userID || len(r.Embedding) == 0 {
			continue
		}
		out = append(out, SimilarTransaction{
			TransactionID: r.TransactionID,
			FraudLabel:    r.FraudLabel,
			Similarity:    embedding.Cosine(vec, r.Embedding),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountDeviceUsers(_ context.Context, device, excludeUser string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]bool)
	for _, r := range s.records {
		if r.DeviceFingerprint == device && r.UserID != excludeUser && r.Timestamp.After(since) {
			users[r.UserID] = true
		}
	}
	return int64(len(users)), nil
}

func (s *MemoryStore) CountMerchantUsers(_ context.Context, merchant string, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]bool)
	for _, r := range s.records {
		if r.Merchant == merchant && r.Timestamp.After(from) && r.Timestamp.Before(to) {
			users[r.UserID] = true
		}
	}
	return int64(len(users)), nil
}

func (s *MemoryStore) CountDeviceTransactions(_ context.Context, device string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if r.DeviceFingerprint == device && r.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
