package types

// Box is an axis-aligned pixel rectangle, e.g. one defect region.
type Box struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Clip returns the part of b inside a width x height frame as half-open
// bounds. ok is false when nothing overlaps.
func (b Box) Clip(width, height int) (x0, y0, x1, y1 int, ok bool) {
	x0, y0 = max(b.X, 0), max(b.Y, 0)
	x1, y1 = min(b.X+b.Width, width), min(b.Y+b.Height, height)
	return x0, y0, x1, y1, x0 < x1 && y0 < y1
}
