package harvest

import "sync"

// Success-rate thresholds for adaptive page sizing.
const (
	growThreshold   = 0.95
	shrinkThreshold = 0.80
)

// PageSizer picks the request page size. In adaptive mode it grows the size
// while requests keep succeeding and shrinks it when the failure rate climbs,
// clamped to [floor, ceiling]. In fixed mode Current always returns the
// initial size.
type PageSizer struct {
	mu       sync.Mutex
	size     int
	floor    int
	ceiling  int
	step     int
	adaptive bool
}

// NewPageSizer builds a sizer starting at initial. Floor, ceiling and step
// are only consulted in adaptive mode; a fixed sizer keeps the initial size
// as given.
func NewPageSizer(initial, floor, ceiling, step int, adaptive bool) *PageSizer {
	if floor <= 0 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	size := initial
	if adaptive {
		if size < floor {
			size = floor
		}
		if size > ceiling {
			size = ceiling
		}
	}
	return &PageSizer{size: size, floor: floor, ceiling: ceiling, step: step, adaptive: adaptive}
}

// Current returns the page size to use for the next request.
func (p *PageSizer) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Observe feeds the latest overall success rate into the sizer.
func (p *PageSizer) Observe(successRate float64) {
	if !p.adaptive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case successRate >= growThreshold:
		p.size = min(p.size+p.step, p.ceiling)
	case successRate < shrinkThreshold:
		p.size = max(p.size-p.step, p.floor)
	}
}
