package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradeforge/histreplay/internal/logger"
	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

// DuckDBRegistry is a Registry backed by a DuckDB database. Each feed kind
// lives in its own table keyed by symbol, board and server time.
type DuckDBRegistry struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewDuckDBRegistry opens (or creates) the DuckDB database at path and
// ensures the market data schema exists.
func NewDuckDBRegistry(path string, log *logger.Logger) (*DuckDBRegistry, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageUnavailable, "failed to open duckdb database", err)
	}

	r := &DuckDBRegistry{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}

	if err := r.ensureSchema(); err != nil {
		db.Close()

		return nil, err
	}

	log.Debug("Opened duckdb market data drive", zap.String("path", path))

	return r, nil
}

// DB exposes the underlying database for data loading tools.
func (r *DuckDBRegistry) DB() *sql.DB { return r.db }

// Close releases the database handle.
func (r *DuckDBRegistry) Close() error {
	return r.db.Close()
}

func (r *DuckDBRegistry) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			symbol VARCHAR, board VARCHAR, server_time TIMESTAMP,
			trade_id BIGINT, price DOUBLE, volume DOUBLE, side VARCHAR
		);`,
		`CREATE TABLE IF NOT EXISTS order_log (
			symbol VARCHAR, board VARCHAR, server_time TIMESTAMP,
			order_id BIGINT, trade_id BIGINT, price DOUBLE, volume DOUBLE, side VARCHAR
		);`,
		`CREATE TABLE IF NOT EXISTS level1 (
			symbol VARCHAR, board VARCHAR, server_time TIMESTAMP,
			field VARCHAR, value DOUBLE
		);`,
		`CREATE TABLE IF NOT EXISTS depth (
			symbol VARCHAR, board VARCHAR, server_time TIMESTAMP,
			bid_price DOUBLE, bid_volume DOUBLE, ask_price DOUBLE, ask_volume DOUBLE
		);`,
		`CREATE TABLE IF NOT EXISTS candles (
			symbol VARCHAR, board VARCHAR, timeframe_seconds BIGINT, open_time TIMESTAMP,
			open DOUBLE, high DOUBLE, low DOUBLE, close DOUBLE, volume DOUBLE
		);`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeStorageUnavailable, "failed to ensure schema", err)
		}
	}

	return nil
}

// Level1Storage implements Registry.
func (r *DuckDBRegistry) Level1Storage(id types.SecurityID) (MarketDataStorage, error) {
	return &duckDBStorage{registry: r, id: id, dataType: types.DataTypeLevel1}, nil
}

// MarketDepthStorage implements Registry. The increment flag is accepted for
// interface symmetry; the depth table stores best-quote snapshots only.
func (r *DuckDBRegistry) MarketDepthStorage(id types.SecurityID, _ bool) (MarketDataStorage, error) {
	return &duckDBStorage{registry: r, id: id, dataType: types.DataTypeMarketDepth}, nil
}

// TickStorage implements Registry.
func (r *DuckDBRegistry) TickStorage(id types.SecurityID) (MarketDataStorage, error) {
	return &duckDBStorage{registry: r, id: id, dataType: types.DataTypeTicks}, nil
}

// OrderLogStorage implements Registry.
func (r *DuckDBRegistry) OrderLogStorage(id types.SecurityID) (MarketDataStorage, error) {
	return &duckDBStorage{registry: r, id: id, dataType: types.DataTypeOrderLog}, nil
}

// CandleStorage implements Registry.
func (r *DuckDBRegistry) CandleStorage(id types.SecurityID, dataType types.DataType) (MarketDataStorage, error) {
	if !dataType.IsCandles() {
		return nil, errors.Newf(errors.ErrCodeUnsupportedDataType, "not a candle data type: %s", dataType)
	}

	return &duckDBStorage{registry: r, id: id, dataType: dataType}, nil
}

// AvailableDataTypes implements Registry.
func (r *DuckDBRegistry) AvailableDataTypes(id types.SecurityID) ([]types.DataType, error) {
	var dataTypes []types.DataType

	tables := []struct {
		table    string
		timeCol  string
		dataType types.DataType
	}{
		{table: "level1", timeCol: "server_time", dataType: types.DataTypeLevel1},
		{table: "depth", timeCol: "server_time", dataType: types.DataTypeMarketDepth},
		{table: "ticks", timeCol: "server_time", dataType: types.DataTypeTicks},
		{table: "order_log", timeCol: "server_time", dataType: types.DataTypeOrderLog},
	}

	for _, t := range tables {
		query, args, err := r.sq.Select("1").
			From(t.table).
			Where(squirrel.Eq{"symbol": id.Symbol, "board": id.Board}).
			Limit(1).
			ToSql()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
		}

		var one int

		err = r.db.QueryRow(query, args...).Scan(&one)

		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to probe table %s", t.table)
		default:
			dataTypes = append(dataTypes, t.dataType)
		}
	}

	query, args, err := r.sq.Select("DISTINCT timeframe_seconds").
		From("candles").
		Where(squirrel.Eq{"symbol": id.Symbol, "board": id.Board}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to probe candles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seconds int64

		if err := rows.Scan(&seconds); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan timeframe", err)
		}

		dataTypes = append(dataTypes, types.CandleTimeFrame(time.Duration(seconds)*time.Second))
	}

	return dataTypes, rows.Err()
}

// duckDBStorage is one feed of a DuckDBRegistry.
type duckDBStorage struct {
	registry *DuckDBRegistry
	id       types.SecurityID
	dataType types.DataType
}

func (s *duckDBStorage) SecurityID() types.SecurityID { return s.id }
func (s *duckDBStorage) DataType() types.DataType     { return s.dataType }

// Load implements MarketDataStorage. Rows are streamed; decoding happens
// inside the yield loop so a consumer that stops early never scans the rest
// of the day.
func (s *duckDBStorage) Load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool) {
	return func(yield func(types.Message, error) bool) {
		from := midnightUTC(date)
		to := from.AddDate(0, 0, 1)

		query, args, err := s.buildQuery(from, to)
		if err != nil {
			yield(nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build day query", err))

			return
		}

		rows, err := s.registry.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, errors.Wrapf(errors.ErrCodeStorageLoadFailed, err, "failed to load %s for %s", s.dataType, s.id))

			return
		}
		defer rows.Close()

		for rows.Next() {
			msg, err := s.scan(rows)
			if err != nil {
				yield(nil, err)

				return
			}

			if !yield(msg, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, errors.Wrap(errors.ErrCodeStorageLoadFailed, "day load interrupted", err))
		}
	}
}

func (s *duckDBStorage) buildQuery(from, to time.Time) (string, []any, error) {
	eqID := squirrel.Eq{"symbol": s.id.Symbol, "board": s.id.Board}

	switch s.dataType.Kind {
	case types.KindTicks:
		return s.registry.sq.Select("server_time", "trade_id", "price", "volume", "side").
			From("ticks").
			Where(eqID).
			Where(squirrel.GtOrEq{"server_time": from}).
			Where(squirrel.Lt{"server_time": to}).
			OrderBy("server_time").
			ToSql()
	case types.KindOrderLog:
		return s.registry.sq.Select("server_time", "order_id", "trade_id", "price", "volume", "side").
			From("order_log").
			Where(eqID).
			Where(squirrel.GtOrEq{"server_time": from}).
			Where(squirrel.Lt{"server_time": to}).
			OrderBy("server_time").
			ToSql()
	case types.KindLevel1:
		return s.registry.sq.Select("server_time", "field", "value").
			From("level1").
			Where(eqID).
			Where(squirrel.GtOrEq{"server_time": from}).
			Where(squirrel.Lt{"server_time": to}).
			OrderBy("server_time").
			ToSql()
	case types.KindMarketDepth:
		return s.registry.sq.Select("server_time", "bid_price", "bid_volume", "ask_price", "ask_volume").
			From("depth").
			Where(eqID).
			Where(squirrel.GtOrEq{"server_time": from}).
			Where(squirrel.Lt{"server_time": to}).
			OrderBy("server_time").
			ToSql()
	case types.KindCandleTimeFrame:
		return s.registry.sq.Select("open_time", "open", "high", "low", "close", "volume").
			From("candles").
			Where(eqID).
			Where(squirrel.Eq{"timeframe_seconds": int64(s.dataType.TimeFrame / time.Second)}).
			Where(squirrel.GtOrEq{"open_time": from}).
			Where(squirrel.Lt{"open_time": to}).
			OrderBy("open_time").
			ToSql()
	default:
		return "", nil, errors.Newf(errors.ErrCodeUnsupportedDataType, "unsupported data type: %s", s.dataType)
	}
}

func (s *duckDBStorage) scan(rows *sql.Rows) (types.Message, error) {
	switch s.dataType.Kind {
	case types.KindTicks:
		var (
			serverTime    time.Time
			tradeID       int64
			price, volume float64
			side          string
		)

		if err := rows.Scan(&serverTime, &tradeID, &price, &volume, &side); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan tick", err)
		}

		return &types.ExecutionMessage{
			SecurityID: s.id,
			ExecKind:   types.ExecKindTick,
			TradeID:    tradeID,
			Price:      decimal.NewFromFloat(price),
			Volume:     decimal.NewFromFloat(volume),
			Side:       parseSide(side),
			Server:     serverTime.UTC(),
		}, nil
	case types.KindOrderLog:
		var (
			serverTime       time.Time
			orderID, tradeID int64
			price, volume    float64
			side             string
		)

		if err := rows.Scan(&serverTime, &orderID, &tradeID, &price, &volume, &side); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan order log record", err)
		}

		return &types.ExecutionMessage{
			SecurityID: s.id,
			ExecKind:   types.ExecKindOrderLog,
			OrderID:    orderID,
			TradeID:    tradeID,
			Price:      decimal.NewFromFloat(price),
			Volume:     decimal.NewFromFloat(volume),
			Side:       parseSide(side),
			Server:     serverTime.UTC(),
		}, nil
	case types.KindLevel1:
		var (
			serverTime time.Time
			field      string
			value      float64
		)

		if err := rows.Scan(&serverTime, &field, &value); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan level1 change", err)
		}

		l1Field, err := parseLevel1Field(field)
		if err != nil {
			return nil, err
		}

		return &types.Level1ChangeMessage{
			SecurityID: s.id,
			Changes:    map[types.Level1Field]decimal.Decimal{l1Field: decimal.NewFromFloat(value)},
			Server:     serverTime.UTC(),
		}, nil
	case types.KindMarketDepth:
		var serverTime time.Time

		var bidPrice, bidVolume, askPrice, askVolume float64

		if err := rows.Scan(&serverTime, &bidPrice, &bidVolume, &askPrice, &askVolume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan depth snapshot", err)
		}

		return &types.QuoteChangeMessage{
			SecurityID: s.id,
			Bids:       []types.Quote{{Price: decimal.NewFromFloat(bidPrice), Volume: decimal.NewFromFloat(bidVolume)}},
			Asks:       []types.Quote{{Price: decimal.NewFromFloat(askPrice), Volume: decimal.NewFromFloat(askVolume)}},
			Server:     serverTime.UTC(),
		}, nil
	case types.KindCandleTimeFrame:
		var openTime time.Time

		var open, high, low, closs, volume float64

		if err := rows.Scan(&openTime, &open, &high, &low, &closs, &volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataParseFailed, "failed to scan candle", err)
		}

		return &types.CandleMessage{
			SecurityID: s.id,
			TimeFrame:  s.dataType.TimeFrame,
			OpenTime:   openTime.UTC(),
			Open:       decimal.NewFromFloat(open),
			High:       decimal.NewFromFloat(high),
			Low:        decimal.NewFromFloat(low),
			Close:      decimal.NewFromFloat(closs),
			Volume:     decimal.NewFromFloat(volume),
		}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnsupportedDataType, "unsupported data type: %s", s.dataType)
	}
}

func parseSide(s string) types.Side {
	switch s {
	case "buy":
		return types.SideBuy
	case "sell":
		return types.SideSell
	default:
		return 0
	}
}

func parseLevel1Field(s string) (types.Level1Field, error) {
	switch s {
	case "last_trade_price":
		return types.Level1FieldLastTradePrice, nil
	case "best_bid_price":
		return types.Level1FieldBestBidPrice, nil
	case "best_ask_price":
		return types.Level1FieldBestAskPrice, nil
	case "best_bid_volume":
		return types.Level1FieldBestBidVolume, nil
	case "best_ask_volume":
		return types.Level1FieldBestAskVolume, nil
	case "volume":
		return types.Level1FieldVolume, nil
	default:
		return 0, errors.Newf(errors.ErrCodeDataParseFailed, "unknown level1 field: %s", s)
	}
}

