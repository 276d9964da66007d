package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

type StorageTestSuite struct {
	suite.Suite

	ctx  context.Context
	date time.Time
	id   types.SecurityID
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageTestSuite))
}

func (suite *StorageTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.date = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	suite.id = types.SecurityID{Symbol: "AAPL", Board: "NYSE"}
}

func (suite *StorageTestSuite) tick(t time.Time, price float64) *types.ExecutionMessage {
	return &types.ExecutionMessage{
		SecurityID: suite.id,
		ExecKind:   types.ExecKindTick,
		Server:     t,
		Price:      decimal.NewFromFloat(price),
		Volume:     decimal.NewFromInt(1),
		Side:       types.SideBuy,
	}
}

func collect(seq func(yield func(types.Message, error) bool)) ([]types.Message, error) {
	var msgs []types.Message

	var firstErr error

	seq(func(msg types.Message, err error) bool {
		if err != nil {
			firstErr = err

			return false
		}

		msgs = append(msgs, msg)

		return true
	})

	return msgs, firstErr
}

func (suite *StorageTestSuite) TestMemoryStorageSortsWithinDay() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(11*time.Hour), 101),
		suite.tick(suite.date.Add(9*time.Hour), 100),
		suite.tick(suite.date.Add(10*time.Hour), 102),
	)

	msgs, err := collect(s.Load(suite.ctx, suite.date))

	suite.Require().NoError(err)
	suite.Require().Len(msgs, 3)

	for i := 1; i < len(msgs); i++ {
		prev := msgs[i-1].(*types.ExecutionMessage)
		cur := msgs[i].(*types.ExecutionMessage)
		suite.False(cur.Server.Before(prev.Server))
	}
}

func (suite *StorageTestSuite) TestMemoryStorageBucketsByDate() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(10*time.Hour), 100),
		suite.tick(suite.date.AddDate(0, 0, 1).Add(10*time.Hour), 101),
	)

	today, err := collect(s.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(today, 1)

	tomorrow, err := collect(s.Load(suite.ctx, suite.date.AddDate(0, 0, 1)))
	suite.Require().NoError(err)
	suite.Len(tomorrow, 1)
}

func (suite *StorageTestSuite) TestBasketMergesByServerTime() {
	ticks := NewMemoryStorage(suite.id, types.DataTypeTicks)
	ticks.Append(
		suite.tick(suite.date.Add(9*time.Hour), 100),
		suite.tick(suite.date.Add(11*time.Hour), 102),
	)

	level1 := NewMemoryStorage(suite.id, types.DataTypeLevel1)
	level1.Append(&types.Level1ChangeMessage{
		SecurityID: suite.id,
		Server:     suite.date.Add(10 * time.Hour),
		Changes: map[types.Level1Field]decimal.Decimal{
			types.Level1FieldLastTradePrice: decimal.NewFromInt(101),
		},
	})

	basket := NewBasket()
	basket.Add(ticks, 1)
	basket.Add(level1, 2)

	msgs, err := collect(basket.Load(suite.ctx, suite.date))

	suite.Require().NoError(err)
	suite.Require().Len(msgs, 3)
	suite.Equal(types.MessageTypeExecution, msgs[0].Type())
	suite.Equal(types.MessageTypeLevel1Change, msgs[1].Type())
	suite.Equal(types.MessageTypeExecution, msgs[2].Type())
}

func (suite *StorageTestSuite) TestBasketTieBreaksInInsertionOrder() {
	first := NewMemoryStorage(suite.id, types.DataTypeTicks)
	first.Append(suite.tick(suite.date.Add(10*time.Hour), 100))

	second := NewMemoryStorage(suite.id, types.DataTypeLevel1)
	second.Append(&types.Level1ChangeMessage{
		SecurityID: suite.id,
		Server:     suite.date.Add(10 * time.Hour),
	})

	basket := NewBasket()
	basket.Add(first, 1)
	basket.Add(second, 2)

	msgs, err := collect(basket.Load(suite.ctx, suite.date))

	suite.Require().NoError(err)
	suite.Require().Len(msgs, 2)
	suite.Equal(types.MessageTypeExecution, msgs[0].Type())
	suite.Equal(types.MessageTypeLevel1Change, msgs[1].Type())
}

func (suite *StorageTestSuite) TestBasketRemoveIsIdempotent() {
	ticks := NewMemoryStorage(suite.id, types.DataTypeTicks)

	basket := NewBasket()
	basket.Add(ticks, 1)

	basket.Remove(1)
	basket.Remove(1)

	suite.Equal(0, basket.Len())
}

func (suite *StorageTestSuite) TestBasketMessageTypes() {
	ticks := NewMemoryStorage(suite.id, types.DataTypeTicks)
	ticks.Append(suite.tick(suite.date.Add(10*time.Hour), 100))

	empty := NewMemoryStorage(suite.id, types.DataTypeLevel1)

	basket := NewBasket()
	basket.Add(ticks, 1)
	basket.Add(empty, 2)

	messageTypes, err := basket.MessageTypes(suite.ctx, suite.date)

	suite.Require().NoError(err)
	suite.Equal([]types.MessageType{types.MessageTypeExecution}, messageTypes)
}

func (suite *StorageTestSuite) TestCacheRecordsCompleteConsumption() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(suite.tick(suite.date.Add(10*time.Hour), 100))

	basket := NewBasket()
	basket.Add(s, 1)
	basket.SetCache(NewCache())

	msgs, err := collect(basket.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(msgs, 1)

	// The storage set changed, but the cached day still serves the old view.
	basket.Remove(1)

	cached, err := collect(basket.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(cached, 1)
}

func (suite *StorageTestSuite) TestCacheSkipsPartialConsumption() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(10*time.Hour), 100),
		suite.tick(suite.date.Add(11*time.Hour), 101),
	)

	cache := NewCache()

	basket := NewBasket()
	basket.Add(s, 1)
	basket.SetCache(cache)

	var seen int

	basket.Load(suite.ctx, suite.date)(func(msg types.Message, err error) bool {
		suite.Require().NoError(err)
		seen++

		return false
	})

	suite.Equal(1, seen)

	// An interrupted day must not be served truncated on the next load.
	msgs, err := collect(basket.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(msgs, 2)
}

func (suite *StorageTestSuite) TestCacheReset() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(suite.tick(suite.date.Add(10*time.Hour), 100))

	cache := NewCache()

	basket := NewBasket()
	basket.Add(s, 1)
	basket.SetCache(cache)

	msgs, err := collect(basket.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(msgs, 1)

	basket.Remove(1)
	cache.Reset()

	msgs, err = collect(basket.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Empty(msgs)
}

func (suite *StorageTestSuite) TestWithFromDropsEarlierMessages() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(9*time.Hour), 100),
		suite.tick(suite.date.Add(10*time.Hour), 101),
	)

	filtered := WithFrom(s, suite.date.Add(10*time.Hour))

	msgs, err := collect(filtered.Load(suite.ctx, suite.date))

	suite.Require().NoError(err)
	suite.Require().Len(msgs, 1)
	suite.Equal(suite.date.Add(10*time.Hour), msgs[0].(*types.ExecutionMessage).Server)
}

func (suite *StorageTestSuite) TestWithLimitCapsAcrossDates() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(10*time.Hour), 100),
		suite.tick(suite.date.AddDate(0, 0, 1).Add(10*time.Hour), 101),
		suite.tick(suite.date.AddDate(0, 0, 1).Add(11*time.Hour), 102),
	)

	limited := WithLimit(s, 2)

	first, err := collect(limited.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(first, 1)

	second, err := collect(limited.Load(suite.ctx, suite.date.AddDate(0, 0, 1)))
	suite.Require().NoError(err)
	suite.Len(second, 1)
}

func (suite *StorageTestSuite) TestWithLimitReloadDoesNotDoubleSpend() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(10*time.Hour), 100),
		suite.tick(suite.date.Add(11*time.Hour), 101),
		suite.tick(suite.date.Add(12*time.Hour), 102),
	)

	limited := WithLimit(s, 2)

	first, err := collect(limited.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(first, 2)

	// A mid-day mutation makes the replay loop reload the same day; the
	// already charged messages replay for free instead of draining the cap.
	second, err := collect(limited.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Require().Len(second, 2)
	suite.Equal(suite.date.Add(11*time.Hour), second[1].(*types.ExecutionMessage).Server)
}

func (suite *StorageTestSuite) TestWithLimitChargesEqualTimesOnce() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(10*time.Hour), 100),
		suite.tick(suite.date.Add(10*time.Hour), 101),
		suite.tick(suite.date.Add(10*time.Hour), 102),
	)

	limited := WithLimit(s, 2)

	first, err := collect(limited.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(first, 2)

	second, err := collect(limited.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(second, 2)
}

func (suite *StorageTestSuite) TestMessageTypesProbeSkipsFilterBudget() {
	s := NewMemoryStorage(suite.id, types.DataTypeTicks)
	s.Append(
		suite.tick(suite.date.Add(10*time.Hour), 100),
		suite.tick(suite.date.Add(11*time.Hour), 101),
	)

	basket := NewBasket()
	basket.Add(WithLimit(s, 2), 1)

	_, err := basket.MessageTypes(suite.ctx, suite.date)
	suite.Require().NoError(err)

	msgs, err := collect(basket.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(msgs, 2)
}

func (suite *StorageTestSuite) TestMemoryRegistrySharesStorages() {
	registry := NewMemoryRegistry()

	first, err := registry.TickStorage(suite.id)
	suite.Require().NoError(err)

	registry.Storage(suite.id, types.DataTypeTicks).Append(suite.tick(suite.date.Add(10*time.Hour), 100))

	msgs, err := collect(first.Load(suite.ctx, suite.date))
	suite.Require().NoError(err)
	suite.Len(msgs, 1)
}

func (suite *StorageTestSuite) TestMemoryRegistryAvailableDataTypes() {
	registry := NewMemoryRegistry()

	registry.Storage(suite.id, types.DataTypeTicks).Append(suite.tick(suite.date.Add(10*time.Hour), 100))
	registry.Storage(suite.id, types.DataTypeLevel1)

	dataTypes, err := registry.AvailableDataTypes(suite.id)

	suite.Require().NoError(err)
	suite.Equal([]types.DataType{types.DataTypeTicks}, dataTypes)
}

func (suite *StorageTestSuite) TestMemoryRegistryRejectsNonCandleDataType() {
	registry := NewMemoryRegistry()

	_, err := registry.CandleStorage(suite.id, types.DataTypeTicks)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeUnsupportedDataType))
}
