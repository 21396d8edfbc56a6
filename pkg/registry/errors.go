package registry

import "errors"

var (
	// ErrUnknownSlot is returned when a caller requests a slot never
	// registered from configuration.
	ErrUnknownSlot = errors.New("registry: unknown slot")

	// ErrFastSlotMissing indicates the fast slot failed to register,
	// meaning the router slot (which shares its identity) is also unset.
	ErrFastSlotMissing = errors.New("registry: fast slot missing, router slot not populated")
)
