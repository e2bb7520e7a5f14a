package perception

// BoundingBox is one detected object in pixel coordinates.
type BoundingBox struct {
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// CenterX returns the horizontal centre of the box.
func (b BoundingBox) CenterX() float64 { return (b.XMin + b.XMax) / 2 }

// DetectionResult is the detector output for one frame.
type DetectionResult struct {
	FrameWidth  int           `json:"frame_width"`
	FrameHeight int           `json:"frame_height"`
	Boxes       []BoundingBox `json:"boxes"`
}
