package main

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"

	"cleanee/hardware"
	"cleanee/perception"
)

// scene is a toy world with one bottle in front of the robot. It serves
// blank frames and answers detections from the bottle's position, which
// moves with the simulated wheels.
type scene struct {
	mu       sync.Mutex
	drive    *hardware.SimDrive
	arm      *hardware.SimArm
	maxSpeed float64
	width    int
	height   int
	reach    float64

	cx, ymax  float64
	visible   bool
	hidden    int
	seenMoves int
}

func newScene(drive *hardware.SimDrive, arm *hardware.SimArm, maxSpeed float64, width, height int, reach float64) *scene {
	s := &scene{drive: drive, arm: arm, maxSpeed: maxSpeed, width: width, height: height, reach: reach}
	s.spawn()
	return s
}

func (s *scene) Grab(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, s.width, s.height)), nil
}

func (s *scene) Detect(ctx context.Context, img image.Image) (perception.DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	b := img.Bounds()
	res := perception.DetectionResult{FrameWidth: b.Dx(), FrameHeight: b.Dy()}
	if s.visible {
		res.Boxes = []perception.BoundingBox{{
			XMin: s.cx - 15, XMax: s.cx + 15,
			YMin: s.ymax - 40, YMax: s.ymax,
			Confidence: 0.9, Label: "bottle",
		}}
	}
	return res, nil
}

func (s *scene) spawn() {
	s.cx = 30 + rand.Float64()*float64(s.width-60)
	s.ymax = float64(s.height) * (0.3 + rand.Float64()*0.3)
	s.visible = true
}

// advance moves the bottle by one frame of wheel motion. Caller holds mu.
func (s *scene) advance() {
	if n := len(s.arm.Moves()); n != s.seenMoves {
		s.seenMoves = n
		if s.visible && float64(s.height)-s.ymax < s.reach {
			s.visible = false
			s.hidden = 30
			log.Info().Str("component", "scene").Msg("bottle collected")
		}
	}
	if !s.visible {
		if s.hidden--; s.hidden <= 0 {
			s.spawn()
		}
		return
	}

	left, right := s.drive.Speeds()
	forward := (left + right) / (2 * s.maxSpeed)
	turn := (right - left) / (2 * s.maxSpeed)
	s.ymax = min(s.ymax+forward*8, float64(s.height))
	s.cx = max(15, min(s.cx+turn*20, float64(s.width)-15))
}
