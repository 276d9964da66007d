// Package timeline computes trading session time lines: it merges board
// session ranges into ordered disjoint intervals and synthesizes time
// messages for dates without stored market data. Everything here is a pure
// function of its arguments.
package timeline

import (
	"sort"
	"time"

	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

// BoardRange is one session range of a board, expressed as UTC time of day
// relative to the requested date.
type BoardRange struct {
	Board *types.Board
	Range types.TimeRange
}

// IsTradeDate reports whether at least one board trades on the given date.
func IsTradeDate(boards []*types.Board, date time.Time) bool {
	for _, b := range boards {
		if b.IsTradeDate(date) {
			return true
		}
	}

	return false
}

// OrderedRanges returns the session ranges of every board trading on date,
// converted to UTC, sorted by range start and merged left to right into
// disjoint intervals.
//
// The merge is a single left-to-right sweep over the sorted list, not a
// general interval merge: equal-start ranges resolve in board list order,
// and a three-way overlap arriving out of order may survive as two ranges.
// Downstream behavior is defined against this exact sweep.
func OrderedRanges(boards []*types.Board, date time.Time) []BoardRange {
	var ranges []BoardRange

	for _, b := range boards {
		if !b.IsTradeDate(date) {
			continue
		}

		if len(b.Sessions) == 0 {
			ranges = append(ranges, BoardRange{
				Board: b,
				Range: types.TimeRange{Min: 0, Max: types.LessOneDay},
			})

			continue
		}

		for _, s := range b.Sessions {
			ranges = append(ranges, BoardRange{Board: b, Range: toUTC(b, s, date)})
		}
	}

	sort.SliceStable(ranges, func(i, j int) bool {
		return ranges[i].Range.Min < ranges[j].Range.Min
	})

	for i := 0; i < len(ranges)-1; {
		switch {
		case ranges[i].Range.Contains(ranges[i+1].Range):
			ranges = append(ranges[:i+1], ranges[i+2:]...)
		case ranges[i+1].Range.Contains(ranges[i].Range):
			ranges = append(ranges[:i], ranges[i+1:]...)
		case ranges[i].Range.Intersects(ranges[i+1].Range):
			ranges[i].Range = types.TimeRange{Min: ranges[i].Range.Min, Max: ranges[i+1].Range.Max}
			ranges = append(ranges[:i+1], ranges[i+2:]...)
		default:
			i++
		}
	}

	return ranges
}

// SimpleTimeLine returns a time message for the start and end boundary of
// every ordered session range on date. A boundary whose date component falls
// before the requested date is dropped: a session converted from a board
// time zone can start on the previous UTC day, and such boundaries are
// skipped rather than emitted out of window.
//
// The interval argument is accepted for signature symmetry with
// PostTradeTimeMessages; the simple time line emits boundary events only.
func SimpleTimeLine(boards []*types.Board, date time.Time, _ time.Duration) []*types.TimeMessage {
	ranges := OrderedRanges(boards, date)
	midnight := midnightUTC(date)

	var msgs []*types.TimeMessage

	for _, r := range ranges {
		if t := midnight.Add(r.Range.Min); !t.Before(midnight) {
			msgs = append(msgs, &types.TimeMessage{Server: t})
		}

		if t := midnight.Add(r.Range.Max); !t.Before(midnight) {
			msgs = append(msgs, &types.TimeMessage{Server: t})
		}
	}

	return msgs
}

// LastSessionEnd returns the end time of day of the last ordered session
// range on date, or zero when no board trades.
func LastSessionEnd(boards []*types.Board, date time.Time) time.Duration {
	ranges := OrderedRanges(boards, date)
	if len(ranges) == 0 {
		return 0
	}

	return ranges[len(ranges)-1].Range.Max
}

// PostTradeTimeMessages emits count time messages at interval steps after
// lastTime, stopping early once a step would cross the end of the day.
// A non-positive interval or a negative count is a contract violation.
func PostTradeTimeMessages(date time.Time, lastTime, interval time.Duration, count int) ([]*types.TimeMessage, error) {
	if interval <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidInterval, "interval must be positive, got %s", interval)
	}

	if count < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidCount, "count must be non-negative, got %d", count)
	}

	midnight := midnightUTC(date)

	var msgs []*types.TimeMessage

	for i := 0; i < count; i++ {
		lastTime += interval

		if lastTime > types.LessOneDay {
			break
		}

		msgs = append(msgs, &types.TimeMessage{Server: midnight.Add(lastTime)})
	}

	return msgs, nil
}

// toUTC converts a board-local time-of-day range to UTC using the board
// zone's offset on the given date. The result is plain duration arithmetic:
// a session near midnight can produce a negative or above-24h time of day,
// which SimpleTimeLine's boundary guard then resolves.
func toUTC(b *types.Board, r types.TimeRange, date time.Time) types.TimeRange {
	loc := b.Location
	if loc == nil {
		return r
	}

	_, offsetSeconds := date.In(loc).Zone()
	offset := time.Duration(offsetSeconds) * time.Second

	return types.TimeRange{Min: r.Min - offset, Max: r.Max - offset}
}

func midnightUTC(date time.Time) time.Time {
	y, m, d := date.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
