package inmemory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statement-import-service/internal/ledger"
	"statement-import-service/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func entry(d int, desc, amount string) *models.Transaction {
	return &models.Transaction{
		ID:          desc,
		Date:        day(d),
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
	}
}

func TestPutAndQuery(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	l := NewLedger().WithClock(func() time.Time { return clock })

	require.NoError(t, l.Put(ctx, "acc-1", entry(5, "b", "-2")))
	require.NoError(t, l.Put(ctx, "acc-1", entry(3, "a", "-1")))
	require.NoError(t, l.Put(ctx, "acc-1", entry(5, "c", "-3")))
	require.NoError(t, l.Put(ctx, "acc-2", entry(4, "other", "9")))

	got, err := l.QueryByAccountAndDateFloor(ctx, "acc-1", day(4))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Description, "same-day entries keep insertion order")
	assert.Equal(t, "c", got[1].Description)
	assert.Equal(t, "acc-1", got[0].AccountID)
	assert.Equal(t, clock, got[0].CreatedAt)
	assert.NotEmpty(t, got[0].ContentHash)

	all := l.Entries("acc-1")
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Description, "entries are ordered by date")
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Description, all[1].Description, all[2].Description},
		"inserted b, a, c: date first, then insertion")

	none, err := l.QueryByAccountAndDateFloor(ctx, "unknown", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPutIsInsertOnly(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.Put(ctx, "acc-1", entry(1, "Coffee", "-3.50")))

	again := entry(1, "  COFFEE ", "-3.5")
	again.ID = "different-id"
	err := l.Put(ctx, "acc-1", again)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ledger.ErrEntryExists), "got %v", err)
	assert.Len(t, l.Entries("acc-1"), 1)

	require.NoError(t, l.Put(ctx, "acc-2", entry(1, "Coffee", "-3.50")), "keys are scoped by account")
}

func TestPutOrReplaceKeepsPosition(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.Put(ctx, "acc-1", entry(1, "first", "-1")))
	require.NoError(t, l.Put(ctx, "acc-1", entry(1, "second", "-2")))

	existing := l.Entries("acc-1")[0]
	replacement := entry(1, "First (corrected)", "-1.00")
	replacement.ContentHash = existing.ContentHash
	replacement.ImportBatchID = "batch-2"
	require.NoError(t, l.PutOrReplace(ctx, "acc-1", replacement))

	all := l.Entries("acc-1")
	require.Len(t, all, 2)
	assert.Equal(t, "First (corrected)", all[0].Description)
	assert.Equal(t, "batch-2", all[0].ImportBatchID)
	assert.Equal(t, "second", all[1].Description)

	require.NoError(t, l.PutOrReplace(ctx, "acc-1", entry(2, "third", "-3")))
	assert.Len(t, l.Entries("acc-1"), 3, "a free key is inserted")
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Put(ctx, "acc-1", entry(1, "x", "1")))

	got := l.Entries("acc-1")
	got[0].Description = "mutated"
	assert.Equal(t, "x", l.Entries("acc-1")[0].Description)
}

func TestPutValidation(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	assert.Error(t, l.Put(ctx, "", entry(1, "x", "1")))
	assert.Error(t, l.Put(ctx, "acc-1", nil))
	assert.Error(t, l.PutOrReplace(ctx, "acc-1", &models.Transaction{Description: "no date"}))
}
