package risk

import (
	"errors"
	"strings"
)

// Instrument carries the per-symbol metadata position sizing needs.
type Instrument struct {
	Symbol   string
	PipSize  float64
	PipValue float64 // account currency per pip per standard lot
	MinLot   float64
	MaxLot   float64
	LotStep  float64
}

// ErrUnknownInstrument is returned for symbols outside the book.
var ErrUnknownInstrument = errors.New("unknown instrument")

// InstrumentBook resolves instrument metadata. Pip size and value come from
// a static table (JPY-quoted pairs, gold, everything else); deriving pip
// value from live quotes would be more correct but the table matches what
// terminals assume today.
type InstrumentBook struct {
	instruments map[string]Instrument
}

// NewBook builds a book for the given symbols with the static pip table.
func NewBook(symbols []string) *InstrumentBook {
	book := &InstrumentBook{instruments: make(map[string]Instrument, len(symbols))}
	for _, symbol := range symbols {
		book.instruments[symbol] = Instrument{
			Symbol:   symbol,
			PipSize:  pipSizeFor(symbol),
			PipValue: 10.0,
			MinLot:   0.01,
			MaxLot:   50.0,
			LotStep:  0.01,
		}
	}
	return book
}

// Lookup resolves one symbol.
func (b *InstrumentBook) Lookup(symbol string) (Instrument, error) {
	inst, ok := b.instruments[symbol]
	if !ok {
		return Instrument{}, ErrUnknownInstrument
	}
	return inst, nil
}

func pipSizeFor(symbol string) float64 {
	switch {
	case strings.HasSuffix(symbol, "JPY"):
		return 0.01
	case symbol == "XAUUSD":
		return 0.1
	default:
		return 0.0001
	}
}
