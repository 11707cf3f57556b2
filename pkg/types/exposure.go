package types

// Metadata carries the header values the calibration steps need.
type Metadata struct {
	Detector int
	Exposure int64
	// ExpTime is the exposure time in seconds; 0 when the header had none.
	ExpTime float64
}

// Exposure is an Image with its Mask and Variance planes.
type Exposure struct {
	Image    *Image
	Mask     *Mask
	Variance *Image
	Meta     Metadata
}

// NewExposure allocates an exposure with all planes of the given size.
func NewExposure(width, height int) *Exposure {
	return &Exposure{
		Image:    NewImage(width, height),
		Mask:     NewMask(width, height),
		Variance: NewImage(width, height),
	}
}

// FromImage wraps img in an exposure with an empty mask and zero variance.
func FromImage(img *Image) *Exposure {
	return &Exposure{
		Image:    img,
		Mask:     NewMask(img.Width, img.Height),
		Variance: NewImage(img.Width, img.Height),
	}
}

// Width returns the exposure width.
func (e *Exposure) Width() int { return e.Image.Width }

// Height returns the exposure height.
func (e *Exposure) Height() int { return e.Image.Height }
