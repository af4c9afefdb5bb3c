package domain

import "errors"

var (
	// ErrCartItemNotFound is returned when a cart operation names an item that is not in the cart.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrQuantityOutOfRange is returned by cart stores when a quantity falls outside [1, ceiling].
	ErrQuantityOutOfRange = errors.New("quantity out of range")
)
