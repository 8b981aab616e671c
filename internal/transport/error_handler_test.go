package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

func TestStatusFromError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "fiber error keeps its code", err: fiber.NewError(fiber.StatusServiceUnavailable, "down"), want: fiber.StatusServiceUnavailable},
		{name: "validation", err: fmt.Errorf("%w: bad id", domain.ErrValidation), want: fiber.StatusBadRequest},
		{name: "invalid range", err: domain.ErrInvalidRange, want: fiber.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("get: %w", domain.ErrNotFound), want: fiber.StatusNotFound},
		{name: "store", err: domain.ErrStore, want: fiber.StatusServiceUnavailable},
		{name: "unknown", err: errors.New("boom"), want: fiber.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := StatusFromError(tc.err); got != tc.want {
				t.Fatalf("StatusFromError() = %d, want %d", got, tc.want)
			}
		})
	}
}
