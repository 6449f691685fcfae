package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/wire"
)

// TerminalLocator answers which terminal owns a symbol right now. The owner
// is whichever terminal delivered the symbol's latest live tick.
type TerminalLocator interface {
	OwnerTerminal(symbol string) (string, bool)
}

// Sender pushes one encoded command line to a connected terminal.
type Sender interface {
	Send(terminalID string, payload []byte) error
}

// Dispatcher routes sized order commands to the terminal that owns the
// symbol. Delivery is at-most-once: any failure is reported to the caller
// and never retried here, because a blind retry could double-execute.
type Dispatcher struct {
	locator TerminalLocator
	sender  Sender
	logger  *zap.Logger
}

// NewDispatcher wires the command dispatcher.
func NewDispatcher(locator TerminalLocator, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		locator: locator,
		sender:  sender,
		logger:  logger,
	}
}

// Dispatch encodes and sends the command to the symbol's owning terminal.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd wire.OrderCommand, symbol string) error {
	terminalID, ok := d.locator.OwnerTerminal(symbol)
	if !ok {
		return fmt.Errorf("no terminal owns symbol %s", symbol)
	}

	payload, err := wire.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	if err := d.sender.Send(terminalID, payload); err != nil {
		return fmt.Errorf("failed to send command to terminal %s: %w", terminalID, err)
	}

	d.logger.Info("order command dispatched",
		zap.String("fire_id", cmd.FireID),
		zap.String("terminal_id", terminalID),
		zap.String("symbol", symbol),
		zap.String("side", cmd.Side),
		zap.Float64("lot", cmd.Lot),
	)
	return nil
}
