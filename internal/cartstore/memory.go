package cartstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

// Memory keeps one cart per session in process memory.
type Memory struct {
	mu    sync.Mutex
	carts map[string]*MemoryCart
}

// NewMemory returns an empty in-memory cart provider.
func NewMemory() *Memory {
	return &Memory{carts: make(map[string]*MemoryCart)}
}

// CartFor returns the cart bound to the session, creating it on first use.
func (m *Memory) CartFor(sessionID string) *MemoryCart {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[sessionID]
	if !ok {
		cart = &MemoryCart{}
		m.carts[sessionID] = cart
	}
	return cart
}

// Drop forgets the session's cart.
func (m *Memory) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
}

// MemoryCart is a single session's cart. Lines keep insertion order.
type MemoryCart struct {
	mu    sync.Mutex
	lines []domain.CartLine
}

// NewMemoryCart returns a standalone cart seeded with lines.
func NewMemoryCart(lines ...domain.CartLine) *MemoryCart {
	return &MemoryCart{lines: append([]domain.CartLine(nil), lines...)}
}

// Items returns a copy of the cart lines.
func (c *MemoryCart) Items(ctx context.Context) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CartLine(nil), c.lines...), nil
}

// Add appends the line, or merges its quantity into an existing line with the same ID. The
// resulting quantity must stay within [1, ceiling].
func (c *MemoryCart) Add(ctx context.Context, line domain.CartLine, ceiling int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := addLine(c.lines, line, ceiling)
	if err != nil {
		return err
	}
	c.lines = lines
	return nil
}

// UpdateQuantity sets the quantity of an existing line, rejecting values outside [1, ceiling].
func (c *MemoryCart) UpdateQuantity(ctx context.Context, itemID string, quantity, ceiling int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return setQuantity(c.lines, itemID, quantity, ceiling)
}

// Remove deletes the line with the given ID.
func (c *MemoryCart) Remove(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := removeLine(c.lines, itemID)
	if err != nil {
		return err
	}
	c.lines = lines
	return nil
}

// Clear empties the cart.
func (c *MemoryCart) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	return nil
}

func addLine(lines []domain.CartLine, line domain.CartLine, ceiling int) ([]domain.CartLine, error) {
	if line.ID == "" {
		return lines, fmt.Errorf("%w: missing item id", domain.ErrCartItemNotFound)
	}
	if line.Quantity < 1 {
		return lines, fmt.Errorf("%w: %d", domain.ErrQuantityOutOfRange, line.Quantity)
	}
	for i := range lines {
		if lines[i].ID != line.ID {
			continue
		}
		merged := lines[i].Quantity + line.Quantity
		if merged > ceiling {
			return lines, fmt.Errorf("%w: %d not in [1, %d]", domain.ErrQuantityOutOfRange, merged, ceiling)
		}
		lines[i].Quantity = merged
		return lines, nil
	}
	if line.Quantity > ceiling {
		return lines, fmt.Errorf("%w: %d not in [1, %d]", domain.ErrQuantityOutOfRange, line.Quantity, ceiling)
	}
	return append(lines, line), nil
}

func setQuantity(lines []domain.CartLine, itemID string, quantity, ceiling int) error {
	for i := range lines {
		if lines[i].ID != itemID {
			continue
		}
		if quantity < 1 || quantity > ceiling {
			return fmt.Errorf("%w: %d not in [1, %d]", domain.ErrQuantityOutOfRange, quantity, ceiling)
		}
		lines[i].Quantity = quantity
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
}

func removeLine(lines []domain.CartLine, itemID string) ([]domain.CartLine, error) {
	for i := range lines {
		if lines[i].ID == itemID {
			return append(lines[:i:i], lines[i+1:]...), nil
		}
	}
	return lines, fmt.Errorf("%w: %s", domain.ErrCartItemNotFound, itemID)
}
