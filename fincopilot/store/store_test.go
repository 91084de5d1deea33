package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/db"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	conn, err := db.ConnectToDB(filepath.Join(s.T().TempDir(), "store.db"), zerolog.Nop())
	require.NoError(s.T(), err)
	s.T().Cleanup(func() { conn.Close() })
	require.NoError(s.T(), Migrate(s.ctx, conn))
	s.store = New(conn)
}

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func (s *StoreTestSuite) TestMigrateIsIdempotent() {
	require.NoError(s.T(), Migrate(s.ctx, s.store.DB()))
	v, err := SchemaVersion(s.ctx, s.store.DB())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), v)
}

func (s *StoreTestSuite) TestTransactionLifecycle() {
	tx := &Transaction{UserID: "u1", Amount: 7.499, Concept: "Mercadona compra", Category: "opcional", Date: day("2026-03-01")}
	require.NoError(s.T(), s.store.InsertTransaction(s.ctx, tx))
	assert.NotEmpty(s.T(), tx.ID)
	assert.False(s.T(), tx.CreatedAt.IsZero())

	got, err := s.store.GetTransaction(s.ctx, "u1", tx.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 7.5, got.Amount) // stored in cents
	assert.Equal(s.T(), "Mercadona compra", got.Concept)
	assert.True(s.T(), got.Date.Equal(day("2026-03-01")))

	_, err = s.store.GetTransaction(s.ctx, "someone-else", tx.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)

	before, err := s.store.UpdateTransactionCategory(s.ctx, "u1", tx.ID, "supervivencia")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "opcional", before.Category)

	got, err = s.store.GetTransaction(s.ctx, "u1", tx.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "supervivencia", got.Category)

	require.NoError(s.T(), s.store.DeleteTransaction(s.ctx, "u1", tx.ID))
	assert.ErrorIs(s.T(), s.store.DeleteTransaction(s.ctx, "u1", tx.ID), ErrNotFound)

	_, err = s.store.UpdateTransactionCategory(s.ctx, "u1", tx.ID, "extra")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestListAndAggregates() {
	rows := []Transaction{
		{UserID: "u1", Amount: 10, Concept: "cafe", Category: "opcional", Date: day("2026-03-01")},
		{UserID: "u1", Amount: 20, Concept: "super", Category: "supervivencia", Date: day("2026-03-01")},
		{UserID: "u1", Amount: 5, Concept: "libro", Category: "cultura", Date: day("2026-03-03")},
		{UserID: "u2", Amount: 99, Concept: "otro", Category: "extra", Date: day("2026-03-02")},
	}
	for i := range rows {
		require.NoError(s.T(), s.store.InsertTransaction(s.ctx, &rows[i]))
	}

	list, err := s.store.ListTransactions(s.ctx, "u1", time.Time{}, time.Time{}, 0)
	require.NoError(s.T(), err)
	require.Len(s.T(), list, 3)
	assert.Equal(s.T(), "libro", list[0].Concept, "newest first")

	limited, err := s.store.ListTransactions(s.ctx, "u1", day("2026-03-01"), day("2026-03-01"), 1)
	require.NoError(s.T(), err)
	assert.Len(s.T(), limited, 1)

	history, err := s.store.History(s.ctx, "u1")
	require.NoError(s.T(), err)
	require.Len(s.T(), history, 3)
	assert.True(s.T(), history[0].Date.Equal(day("2026-03-01")))

	sums, err := s.store.SumByCategory(s.ctx, "u1", day("2026-03-01"), day("2026-03-31"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), map[string]float64{"opcional": 10, "supervivencia": 20, "cultura": 5}, sums)

	daily, err := s.store.DailyTotals(s.ctx, "u1", day("2026-03-01"), day("2026-03-31"))
	require.NoError(s.T(), err)
	require.Len(s.T(), daily, 2)
	assert.Equal(s.T(), 30.0, daily[0].Total)
	assert.Equal(s.T(), 5.0, daily[1].Total)
}

func (s *StoreTestSuite) TestRecentByAmount() {
	old := &Transaction{UserID: "u1", Amount: 50, Concept: "viejo", Category: "extra", Date: day("2026-03-01"),
		CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Transaction{UserID: "u1", Amount: 52, Concept: "nuevo", Category: "extra", Date: day("2026-03-01")}
	far := &Transaction{UserID: "u1", Amount: 80, Concept: "caro", Category: "extra", Date: day("2026-03-01")}
	for _, tx := range []*Transaction{old, fresh, far} {
		require.NoError(s.T(), s.store.InsertTransaction(s.ctx, tx))
	}

	got, err := s.store.RecentByAmount(s.ctx, "u1", time.Now().Add(-24*time.Hour), 45, 55)
	require.NoError(s.T(), err)
	require.Len(s.T(), got, 1)
	assert.Equal(s.T(), fresh.ID, got[0].ID)
}

func (s *StoreTestSuite) TestBudgets() {
	require.NoError(s.T(), s.store.SetBudget(s.ctx, "u1", "opcional", 200))
	require.NoError(s.T(), s.store.SetBudget(s.ctx, "u1", "opcional", 250))
	require.NoError(s.T(), s.store.SetBudget(s.ctx, "u1", "cultura", 50))

	b, err := s.store.Budgets(s.ctx, "u1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), map[string]float64{"opcional": 250, "cultura": 50}, b)
}

func (s *StoreTestSuite) TestUserRuleUpsertOverwrites() {
	_, ok, err := s.store.UserRule(s.ctx, "u1", "mercadona")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)

	require.NoError(s.T(), s.store.UpsertUserRule(s.ctx, "u1", "mercadona", "opcional", 1.0))
	require.NoError(s.T(), s.store.UpsertUserRule(s.ctx, "u1", "mercadona", "supervivencia", 1.0))

	rule, ok, err := s.store.UserRule(s.ctx, "u1", "mercadona")
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	assert.Equal(s.T(), "supervivencia", rule.Category)
	assert.Equal(s.T(), 1.0, rule.Confidence)
	assert.Equal(s.T(), ScopeUser, rule.Scope)

	_, ok, err = s.store.UserRule(s.ctx, "u2", "mercadona")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok, "rules are scoped per user")
}

func (s *StoreTestSuite) TestGlobalVoteOnlyOnAgreement() {
	updated, err := s.store.IncrementGlobalVote(s.ctx, "netflix", "opcional")
	require.NoError(s.T(), err)
	assert.False(s.T(), updated, "no rule means no increment")

	_, ok, err := s.store.GlobalRule(s.ctx, "netflix")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok, "increment never creates a rule")

	require.NoError(s.T(), s.store.SeedGlobalRule(s.ctx, "netflix", "opcional", 2))

	updated, err = s.store.IncrementGlobalVote(s.ctx, "netflix", "cultura")
	require.NoError(s.T(), err)
	assert.False(s.T(), updated)

	updated, err = s.store.IncrementGlobalVote(s.ctx, "netflix", "opcional")
	require.NoError(s.T(), err)
	assert.True(s.T(), updated)

	rule, ok, err := s.store.GlobalRule(s.ctx, "netflix")
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	assert.Equal(s.T(), 3, rule.VoteCount)
	assert.Equal(s.T(), "opcional", rule.Category)
}

func (s *StoreTestSuite) TestConcurrentGlobalVotesAreNotLost() {
	require.NoError(s.T(), s.store.SeedGlobalRule(s.ctx, "spotify", "opcional", 0))

	const voters = 10
	var wg sync.WaitGroup
	for range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.IncrementGlobalVote(s.ctx, "spotify", "opcional")
			assert.NoError(s.T(), err)
		}()
	}
	wg.Wait()

	rule, _, err := s.store.GlobalRule(s.ctx, "spotify")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), voters, rule.VoteCount)
}

func (s *StoreTestSuite) TestSeedRejectsNegativeVotes() {
	assert.Error(s.T(), s.store.SeedGlobalRule(s.ctx, "x", "extra", -1))
}
