package game

import (
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

// Canvas is the presentation boundary. The engine paints each simulated
// frame into the context returned by NextFrame and hands it back with
// FrameDone. Replay playback is driven by the engine while a round is
// paused or over.
type Canvas interface {
	NextFrame() *gg.Context
	FrameDone()
	StartReplay()
	StepReplay()
}

var (
	colorBackground = color.Black
	colorProjectile = color.RGBA{128, 128, 0, 255}
	colorDead       = color.RGBA{90, 90, 90, 255}
	colorOverheated = color.RGBA{220, 110, 20, 255}
	colorLabel      = color.RGBA{128, 128, 128, 255}
	colorNoAmmo     = color.RGBA{170, 42, 42, 255}
)

// paint renders the arena into the next canvas frame. Active agents draw
// themselves through the sandbox, so drawing costs processor time.
func (e *Engine) paint() {
	if e.canvas == nil {
		return
	}
	dc := e.canvas.NextFrame()
	if dc == nil {
		return
	}
	defer e.canvas.FrameDone()

	dc.SetColor(colorBackground)
	dc.Clear()

	d := 2 * e.rules.Radius
	for i := range e.records {
		r := &e.records[i]
		if r.Out {
			continue
		}
		x, y := int(math.Round(r.X)), int(math.Round(r.Y))
		switch {
		case r.Dead:
			drawWreck(dc, float64(x), float64(y), d)
		case r.Overheated:
			drawOverheated(dc, float64(x), float64(y), d)
		default:
			s := e.strategies[i]
			e.sandbox.Call(e.target(i), CapDraw, func() {
				dc.Push()
				defer dc.Pop()
				s.Draw(dc, x, y)
			})
		}
	}

	dc.SetColor(colorProjectile)
	dc.SetLineWidth(1)
	for _, p := range e.projectiles.AppendTo(nil) {
		tail := p.Pos.Sub(p.Vel)
		dc.DrawLine(tail.X(), tail.Y(), p.Pos.X(), p.Pos.Y())
		dc.Stroke()
	}

	// Labels go last so they sit on top of other agents.
	if e.display == DisplayNone {
		return
	}
	for i := range e.records {
		r := &e.records[i]
		if !r.Alive() {
			continue
		}
		var label string
		switch e.display {
		case DisplayNames:
			label = r.Name
		case DisplayScores:
			label = fmt.Sprintf("%.1f", r.Score)
		case DisplayTeams:
			label = r.Team
		}
		if r.Overheated || !e.projectiles.CanFire(i) {
			dc.SetColor(colorNoAmmo)
		} else {
			dc.SetColor(colorLabel)
		}
		dc.DrawStringAnchored(label, r.X+e.rules.Radius, r.Y-2, 0.5, 0)
	}
}

func drawWreck(dc *gg.Context, x, y, d float64) {
	dc.SetColor(colorDead)
	dc.SetLineWidth(2)
	dc.DrawLine(x+2, y+2, x+d-2, y+d-2)
	dc.DrawLine(x+d-2, y+2, x+2, y+d-2)
	dc.Stroke()
}

func drawOverheated(dc *gg.Context, x, y, d float64) {
	dc.SetColor(colorOverheated)
	dc.DrawCircle(x+d/2, y+d/2, d/2)
	dc.Fill()
	dc.SetColor(colorBackground)
	dc.DrawCircle(x+d/2, y+d/2, d/4)
	dc.Fill()
}
