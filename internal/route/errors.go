package route

import (
	"errors"
	"fmt"

	"github.com/QuadTriangle/navlink/internal/types"
)

var (
	ErrEngineNotReady     = errors.New("map is not initialized")
	ErrInsufficientPoints = errors.New("at least 2 navigation points are required")
	ErrUnsupportedNavType = errors.New("unsupported navigation type")
)

// InvalidPointError identifies a point with neither coordinates nor keyword.
type InvalidPointError struct {
	Index int
	Point types.Point
}

func (e *InvalidPointError) Error() string {
	return fmt.Sprintf("point %d: need lng/lat or keyword", e.Index+1)
}
