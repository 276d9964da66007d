// Package config defines the YAML configuration of a replay run and its JSON
// schema.
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

const (
	DefaultMarketTimeChangedInterval       = time.Second
	DefaultPostTradeMarketTimeChangedCount = 2
)

// SessionConfig is one trading session expressed as clock times.
type SessionConfig struct {
	Start time.Duration `yaml:"start" json:"start" jsonschema:"title=Start,description=Session start as HH:MM or HH:MM:SS clock time"`
	End   time.Duration `yaml:"end" json:"end" jsonschema:"title=End,description=Session end as HH:MM or HH:MM:SS clock time"`
}

// BoardConfig describes a trading board and its calendar.
type BoardConfig struct {
	Code     string          `yaml:"code" json:"code" jsonschema:"title=Code,description=Board code" validate:"required"`
	Timezone string          `yaml:"timezone" json:"timezone" jsonschema:"title=Timezone,description=IANA timezone of the board,default=UTC"`
	Sessions []SessionConfig `yaml:"sessions" json:"sessions" jsonschema:"title=Sessions,description=Trading sessions in board local time"`
	Holidays []time.Time     `yaml:"holidays" json:"holidays" jsonschema:"title=Holidays,description=Non-trading dates"`
}

// SecurityConfig describes one replayable instrument.
type SecurityConfig struct {
	Symbol string `yaml:"symbol" json:"symbol" jsonschema:"title=Symbol,description=Instrument symbol" validate:"required"`
	Board  string `yaml:"board" json:"board" jsonschema:"title=Board,description=Code of the board the instrument trades on" validate:"required"`
	Name   string `yaml:"name" json:"name" jsonschema:"title=Name,description=Human readable instrument name"`
}

// ReplayConfig is the full configuration of a replay run.
type ReplayConfig struct {
	StartDate                       time.Time        `yaml:"start_date" json:"start_date" jsonschema:"title=Start Date,description=Inclusive start of the replay window" validate:"required"`
	StopDate                        time.Time        `yaml:"stop_date" json:"stop_date" jsonschema:"title=Stop Date,description=Inclusive end of the replay window" validate:"required,gtefield=StartDate"`
	MarketTimeChangedInterval       time.Duration    `yaml:"market_time_changed_interval" json:"market_time_changed_interval" jsonschema:"title=Market Time Changed Interval,description=Synthetic heartbeat granularity,default=1s" validate:"gt=0"`
	PostTradeMarketTimeChangedCount int              `yaml:"post_trade_market_time_changed_count" json:"post_trade_market_time_changed_count" jsonschema:"title=Post Trade Market Time Changed Count,description=Heartbeats emitted after session close,default=2" validate:"gte=0"`
	CheckTradableDates              bool             `yaml:"check_tradable_dates" json:"check_tradable_dates" jsonschema:"title=Check Tradable Dates,description=Skip calendar dates no board trades on"`
	DatabasePath                    string           `yaml:"database_path" json:"database_path" jsonschema:"title=Database Path,description=Path of the duckdb market data file. Empty runs fully in memory"`
	Boards                          []BoardConfig    `yaml:"boards" json:"boards" jsonschema:"title=Boards,description=Trading boards and their calendars"`
	Securities                      []SecurityConfig `yaml:"securities" json:"securities" jsonschema:"title=Securities,description=Replayable instruments" validate:"dive"`
}

// DefaultConfig returns a ReplayConfig with default pacing values and an
// empty window.
func DefaultConfig() ReplayConfig {
	return ReplayConfig{
		MarketTimeChangedInterval:       DefaultMarketTimeChangedInterval,
		PostTradeMarketTimeChangedCount: DefaultPostTradeMarketTimeChangedCount,
	}
}

// UnmarshalYAML implements custom unmarshaling for SessionConfig: clock
// times are written as "09:30" or "09:30:00" strings.
func (c *SessionConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Session struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	}

	var session Session
	if err := unmarshal(&session); err != nil {
		return err
	}

	start, err := parseClock(session.Start)
	if err != nil {
		return err
	}

	end, err := parseClock(session.End)
	if err != nil {
		return err
	}

	c.Start = start
	c.End = end

	return nil
}

// UnmarshalYAML implements custom unmarshaling for ReplayConfig: dates are
// "2006-01-02" strings and the interval is a Go duration string.
func (c *ReplayConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		StartDate                       string           `yaml:"start_date"`
		StopDate                        string           `yaml:"stop_date"`
		MarketTimeChangedInterval       *string          `yaml:"market_time_changed_interval"`
		PostTradeMarketTimeChangedCount *int             `yaml:"post_trade_market_time_changed_count"`
		CheckTradableDates              bool             `yaml:"check_tradable_dates"`
		DatabasePath                    string           `yaml:"database_path"`
		Boards                          []BoardConfig    `yaml:"boards"`
		Securities                      []SecurityConfig `yaml:"securities"`
	}

	var config Config
	if err := unmarshal(&config); err != nil {
		return err
	}

	startDate, err := parseDate(config.StartDate)
	if err != nil {
		return err
	}

	stopDate, err := parseDate(config.StopDate)
	if err != nil {
		return err
	}

	c.StartDate = startDate
	c.StopDate = stopDate
	c.CheckTradableDates = config.CheckTradableDates
	c.DatabasePath = config.DatabasePath
	c.Boards = config.Boards
	c.Securities = config.Securities

	c.MarketTimeChangedInterval = DefaultMarketTimeChangedInterval
	if config.MarketTimeChangedInterval != nil {
		interval, err := time.ParseDuration(*config.MarketTimeChangedInterval)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid market time changed interval", err)
		}

		c.MarketTimeChangedInterval = interval
	}

	c.PostTradeMarketTimeChangedCount = DefaultPostTradeMarketTimeChangedCount
	if config.PostTradeMarketTimeChangedCount != nil {
		c.PostTradeMarketTimeChangedCount = *config.PostTradeMarketTimeChangedCount
	}

	return nil
}

// Validate validates the ReplayConfig struct.
func (c *ReplayConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid replay config", err)
	}

	for _, board := range c.Boards {
		if board.Timezone == "" {
			continue
		}

		if _, err := time.LoadLocation(board.Timezone); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid timezone %q for board %s", board.Timezone, board.Code)
		}
	}

	return nil
}

// ParseReplayConfig parses a YAML configuration string into a validated
// ReplayConfig.
func ParseReplayConfig(yamlConfig string) (*ReplayConfig, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(yamlConfig), &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse replay config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// GenerateSchema generates a JSON schema for the ReplayConfig.
func (c *ReplayConfig) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Time{}) {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date",
				}
			}
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type: "string",
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "replay-config"
	schema.Description = "Configuration schema for the market data replay scheduler"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the ReplayConfig.
func (c *ReplayConfig) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid date %q", value)
	}

	return date, nil
}

// parseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func parseClock(value string) (time.Duration, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, errors.Newf(errors.ErrCodeInvalidConfiguration, "invalid clock time %q", value)
	}

	var h, m, s int

	if _, err := fmt.Sscanf(parts[0]+":"+parts[1], "%d:%d", &h, &m); err != nil {
		return 0, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid clock time %q", value)
	}

	if len(parts) == 3 {
		if _, err := fmt.Sscanf(parts[2], "%d", &s); err != nil {
			return 0, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid clock time %q", value)
		}
	}

	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return 0, errors.Newf(errors.ErrCodeInvalidConfiguration, "clock time %q out of range", value)
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, nil
}

// Board converts a BoardConfig into the runtime board representation.
func (c *BoardConfig) Board() (*types.Board, error) {
	location := time.UTC

	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid timezone %q for board %s", c.Timezone, c.Code)
		}

		location = loc
	}

	sessions := make([]types.TimeRange, 0, len(c.Sessions))

	for _, s := range c.Sessions {
		sessions = append(sessions, types.TimeRange{Min: s.Start, Max: s.End})
	}

	return &types.Board{
		Code:     c.Code,
		Location: location,
		Sessions: sessions,
		Holidays: c.Holidays,
	}, nil
}
