package cachemanager

import (
	"image"
)

// Sizer lets cached values report their own cost in bytes.
type Sizer interface {
	CacheCost() int64
}

// EstimateCost prices a cached object. Images cost width × height × 4 bytes,
// byte slices and strings their length. Unknown types cost nothing and are
// bounded only by the count limit.
func EstimateCost(v any) int64 {
	switch value := v.(type) {
	case nil:
		return 0
	case Sizer:
		return value.CacheCost()
	case []byte:
		return int64(len(value))
	case string:
		return int64(len(value))
	case image.Image:
		bounds := value.Bounds()
		return int64(bounds.Dx()) * int64(bounds.Dy()) * 4
	default:
		return 0
	}
}
