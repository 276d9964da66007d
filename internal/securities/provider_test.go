package securities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/histreplay/internal/types"
)

type ProviderTestSuite struct {
	suite.Suite

	provider *CollectionProvider
	nyse     *types.Board
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderTestSuite))
}

func (suite *ProviderTestSuite) SetupTest() {
	suite.provider = NewCollectionProvider()
	suite.nyse = &types.Board{Code: "NYSE", Location: time.UTC}

	suite.provider.Add(Security{
		ID:    types.SecurityID{Symbol: "AAPL", Board: "NYSE"},
		Name:  "Apple Inc.",
		Board: suite.nyse,
	})
	suite.provider.Add(Security{
		ID:    types.SecurityID{Symbol: "MSFT", Board: "NYSE"},
		Name:  "Microsoft Corp.",
		Board: suite.nyse,
	})
}

func (suite *ProviderTestSuite) TestLookupExactSymbol() {
	matches := suite.provider.Lookup("AAPL")

	suite.Require().Len(matches, 1)
	suite.Equal("Apple Inc.", matches[0].Name)
}

func (suite *ProviderTestSuite) TestLookupIsCaseInsensitive() {
	suite.Len(suite.provider.Lookup("msft"), 1)
}

func (suite *ProviderTestSuite) TestLookupEmptySymbolMatchesAll() {
	suite.Len(suite.provider.Lookup(""), 2)
}

func (suite *ProviderTestSuite) TestLookupUnknownSymbol() {
	suite.Empty(suite.provider.Lookup("GOOG"))
}

func (suite *ProviderTestSuite) TestBoardsDeduplicated() {
	boards := suite.provider.Boards()

	suite.Require().Len(boards, 1)
	suite.Equal("NYSE", boards[0].Code)
}

func (suite *ProviderTestSuite) TestAddBoard() {
	suite.provider.AddBoard(&types.Board{Code: "LSE", Location: time.UTC})
	suite.provider.AddBoard(nil)

	suite.Len(suite.provider.Boards(), 2)
}
