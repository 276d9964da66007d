package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/histreplay/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

const fullConfig = `
start_date: "2024-01-15"
stop_date: "2024-01-19"
market_time_changed_interval: 5s
post_trade_market_time_changed_count: 3
check_tradable_dates: true
database_path: market.duckdb
boards:
  - code: NYSE
    timezone: America/New_York
    sessions:
      - start: "09:30"
        end: "16:00"
    holidays:
      - 2024-01-15
securities:
  - symbol: AAPL
    board: NYSE
    name: Apple Inc.
`

func (suite *ConfigTestSuite) TestParseFullConfig() {
	cfg, err := ParseReplayConfig(fullConfig)

	suite.Require().NoError(err)
	suite.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), cfg.StartDate)
	suite.Equal(time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC), cfg.StopDate)
	suite.Equal(5*time.Second, cfg.MarketTimeChangedInterval)
	suite.Equal(3, cfg.PostTradeMarketTimeChangedCount)
	suite.True(cfg.CheckTradableDates)
	suite.Equal("market.duckdb", cfg.DatabasePath)

	suite.Require().Len(cfg.Boards, 1)
	suite.Equal("NYSE", cfg.Boards[0].Code)
	suite.Require().Len(cfg.Boards[0].Sessions, 1)
	suite.Equal(9*time.Hour+30*time.Minute, cfg.Boards[0].Sessions[0].Start)
	suite.Equal(16*time.Hour, cfg.Boards[0].Sessions[0].End)
	suite.Len(cfg.Boards[0].Holidays, 1)

	suite.Require().Len(cfg.Securities, 1)
	suite.Equal("AAPL", cfg.Securities[0].Symbol)
}

func (suite *ConfigTestSuite) TestDefaults() {
	cfg, err := ParseReplayConfig(`
start_date: "2024-01-15"
stop_date: "2024-01-16"
`)

	suite.Require().NoError(err)
	suite.Equal(DefaultMarketTimeChangedInterval, cfg.MarketTimeChangedInterval)
	suite.Equal(DefaultPostTradeMarketTimeChangedCount, cfg.PostTradeMarketTimeChangedCount)
	suite.False(cfg.CheckTradableDates)
}

func (suite *ConfigTestSuite) TestRejectsMissingDates() {
	_, err := ParseReplayConfig(`check_tradable_dates: true`)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestRejectsStopBeforeStart() {
	_, err := ParseReplayConfig(`
start_date: "2024-01-16"
stop_date: "2024-01-15"
`)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestRejectsInvalidInterval() {
	_, err := ParseReplayConfig(`
start_date: "2024-01-15"
stop_date: "2024-01-16"
market_time_changed_interval: fast
`)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestRejectsInvalidClockTime() {
	_, err := ParseReplayConfig(`
start_date: "2024-01-15"
stop_date: "2024-01-16"
boards:
  - code: NYSE
    sessions:
      - start: "09:61"
        end: "16:00"
`)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestRejectsInvalidTimezone() {
	_, err := ParseReplayConfig(`
start_date: "2024-01-15"
stop_date: "2024-01-16"
boards:
  - code: NYSE
    timezone: Mars/Olympus
`)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestBoardConversion() {
	cfg, err := ParseReplayConfig(fullConfig)
	suite.Require().NoError(err)

	board, err := cfg.Boards[0].Board()

	suite.Require().NoError(err)
	suite.Equal("NYSE", board.Code)
	suite.Equal("America/New_York", board.Location.String())
	suite.Require().Len(board.Sessions, 1)
	suite.Equal(9*time.Hour+30*time.Minute, board.Sessions[0].Min)
	suite.Equal(16*time.Hour, board.Sessions[0].Max)
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	cfg := &ReplayConfig{}

	schemaJSON, err := cfg.GenerateSchemaJSON()

	suite.Require().NoError(err)
	suite.NotEmpty(schemaJSON)

	var schema map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(schemaJSON), &schema))
	suite.Equal("replay-config", schema["title"])
}

func (suite *ConfigTestSuite) TestGenerateSchema() {
	cfg := &ReplayConfig{}

	schema, err := cfg.GenerateSchema()

	suite.Require().NoError(err)
	suite.Require().NotNil(schema)
	suite.Equal("replay-config", schema.Title)
	suite.Equal("Configuration schema for the market data replay scheduler", schema.Description)
	suite.Equal("http://json-schema.org/draft-07/schema#", schema.Version)
}
