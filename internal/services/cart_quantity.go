package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

// ErrCartItemNotFound indicates the requested item is not in the cart.
var ErrCartItemNotFound = domain.ErrCartItemNotFound

type stockReader interface {
	Current(ctx context.Context) domain.StockSnapshot
}

// CartQuantityController applies stock-bounded quantity changes to the cart.
type CartQuantityController struct {
	cart     CartStore
	stock    stockReader
	recorder CheckoutRecorder
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// CartQuantityControllerDeps wires the dependencies of a CartQuantityController.
type CartQuantityControllerDeps struct {
	Cart     CartStore
	Stock    stockReader
	Recorder CheckoutRecorder
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCartQuantityController constructs a controller validating required dependencies.
func NewCartQuantityController(deps CartQuantityControllerDeps) (*CartQuantityController, error) {
	if deps.Cart == nil {
		return nil, errors.New("cart quantity controller: cart store is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("cart quantity controller: stock reader is required")
	}
	return &CartQuantityController{
		cart:     deps.Cart,
		stock:    deps.Stock,
		recorder: recorderOrNoop(deps.Recorder),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// RequestQuantityChange sets the item's quantity when 1 <= proposed <= stock. Any other value is
// ignored and the current quantity is returned without an error.
func (c *CartQuantityController) RequestQuantityChange(ctx context.Context, itemID string, proposed int) (int, error) {
	line, err := c.line(ctx, itemID)
	if err != nil {
		return 0, err
	}
	ceiling := c.stock.Current(ctx).Available(itemID)
	if proposed < 1 || proposed > ceiling {
		c.recorder.QuantityRejected()
		c.logger(ctx, "checkout.quantity_rejected", map[string]any{
			"item_id":  itemID,
			"proposed": proposed,
			"ceiling":  ceiling,
		})
		return line.Quantity, nil
	}
	if proposed == line.Quantity {
		return proposed, nil
	}
	if err := c.cart.UpdateQuantity(ctx, itemID, proposed, ceiling); err != nil {
		if errors.Is(err, domain.ErrQuantityOutOfRange) {
			return line.Quantity, nil
		}
		return line.Quantity, fmt.Errorf("update quantity: %w", err)
	}
	return proposed, nil
}

// Increment raises the quantity by one, subject to the stock ceiling.
func (c *CartQuantityController) Increment(ctx context.Context, itemID string) (int, error) {
	line, err := c.line(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return c.RequestQuantityChange(ctx, itemID, line.Quantity+1)
}

// Decrement lowers the quantity by one. It never removes the line.
func (c *CartQuantityController) Decrement(ctx context.Context, itemID string) (int, error) {
	line, err := c.line(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return c.RequestQuantityChange(ctx, itemID, line.Quantity-1)
}

// Add puts the line into the cart when the resulting quantity stays within the item's stock.
// An add past the ceiling is ignored without an error, like RequestQuantityChange.
func (c *CartQuantityController) Add(ctx context.Context, line domain.CartLine) error {
	lines, err := c.cart.Items(ctx)
	if err != nil {
		return fmt.Errorf("read cart: %w", err)
	}
	proposed := line.Quantity
	for _, existing := range lines {
		if existing.ID == line.ID {
			proposed += existing.Quantity
			break
		}
	}
	ceiling := c.stock.Current(ctx).Available(line.ID)
	if proposed > ceiling {
		c.rejectAdd(ctx, line.ID, proposed, ceiling)
		return nil
	}
	if err := c.cart.Add(ctx, line, ceiling); err != nil {
		if errors.Is(err, domain.ErrQuantityOutOfRange) {
			c.rejectAdd(ctx, line.ID, proposed, ceiling)
			return nil
		}
		return fmt.Errorf("add item: %w", err)
	}
	return nil
}

func (c *CartQuantityController) rejectAdd(ctx context.Context, itemID string, proposed, ceiling int) {
	c.recorder.QuantityRejected()
	c.logger(ctx, "checkout.add_rejected", map[string]any{
		"item_id":  itemID,
		"proposed": proposed,
		"ceiling":  ceiling,
	})
}

// Remove deletes the line from the cart.
func (c *CartQuantityController) Remove(ctx context.Context, itemID string) error {
	if err := c.cart.Remove(ctx, itemID); err != nil {
		if errors.Is(err, domain.ErrCartItemNotFound) {
			return err
		}
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// CanIncrement reports whether one more unit fits under the stock ceiling.
func CanIncrement(line domain.CartLine, snapshot domain.StockSnapshot) bool {
	return line.Quantity < snapshot.Available(line.ID)
}

// CanDecrement reports whether the quantity may go down without reaching zero.
func CanDecrement(line domain.CartLine) bool {
	return line.Quantity > 1
}

func (c *CartQuantityController) line(ctx context.Context, itemID string) (domain.CartLine, error) {
	lines, err := c.cart.Items(ctx)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("read cart: %w", err)
	}
	for _, line := range lines {
		if line.ID == itemID {
			return line, nil
		}
	}
	return domain.CartLine{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
}
