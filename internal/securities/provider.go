// Package securities resolves instrument lookups against a known universe of
// securities and trading boards.
package securities

import (
	"strings"
	"sync"

	"github.com/tradeforge/histreplay/internal/types"
)

// Security describes one tradable instrument.
type Security struct {
	ID    types.SecurityID
	Name  string
	Board *types.Board
}

// Provider answers instrument lookups and exposes the trading boards whose
// calendars drive the replay.
type Provider interface {
	// Lookup returns the securities matching the symbol. An empty symbol
	// matches everything.
	Lookup(symbol string) []Security
	// Boards returns every known trading board.
	Boards() []*types.Board
}

// CollectionProvider is an in-memory Provider backed by explicitly added
// securities and boards.
type CollectionProvider struct {
	mu         sync.RWMutex
	securities []Security
	boards     map[string]*types.Board
}

// NewCollectionProvider creates an empty provider.
func NewCollectionProvider() *CollectionProvider {
	return &CollectionProvider{
		boards: make(map[string]*types.Board),
	}
}

// Add registers a security. Its board is registered too when present.
func (p *CollectionProvider) Add(sec Security) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.securities = append(p.securities, sec)

	if sec.Board != nil {
		p.boards[sec.Board.Code] = sec.Board
	}
}

// AddBoard registers a trading board without attaching a security to it.
func (p *CollectionProvider) AddBoard(board *types.Board) {
	if board == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.boards[board.Code] = board
}

// Lookup implements Provider. Symbol matching is case-insensitive and exact.
func (p *CollectionProvider) Lookup(symbol string) []Security {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if symbol == "" {
		out := make([]Security, len(p.securities))
		copy(out, p.securities)

		return out
	}

	var out []Security

	for _, sec := range p.securities {
		if strings.EqualFold(sec.ID.Symbol, symbol) {
			out = append(out, sec)
		}
	}

	return out
}

// Boards implements Provider.
func (p *CollectionProvider) Boards() []*types.Board {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*types.Board, 0, len(p.boards))

	for _, board := range p.boards {
		out = append(out, board)
	}

	return out
}
