package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strings"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/opentype"
)

// hudMessages is how many log lines fit in the text area.
const hudMessages = 5

var (
	colorBar      = color.RGBA{60, 60, 60, 175}
	colorText     = color.RGBA{255, 255, 255, 255}
	colorSubtle   = color.RGBA{192, 192, 192, 255}
	colorDim      = color.RGBA{128, 128, 128, 255}
	colorAccent   = color.RGBA{170, 42, 42, 255}
	colorTableBox = color.RGBA{60, 60, 60, 130}
)

// Overlay composes the HUD (clock, message log, banners, rules and stats
// table) around an arena frame.
type Overlay struct {
	arena config.ArenaConfig
	rules config.Rules
	log   *zap.Logger

	fontSmall   font.Face
	fontMedium  font.Face
	fontLarge   font.Face
	fontsLoaded bool
}

// NewOverlay creates an overlay and loads its embedded fonts. Without
// fonts gg's built-in face is used.
func NewOverlay(arena config.ArenaConfig, rules config.Rules, log *zap.Logger) *Overlay {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Overlay{arena: arena, rules: rules, log: log}
	o.loadFonts()
	return o
}

func (o *Overlay) loadFonts() {
	regular, err := opentype.Parse(gomono.TTF)
	if err != nil {
		o.log.Warn("failed to parse font", zap.Error(err))
		return
	}
	bold, err := opentype.Parse(gomonobold.TTF)
	if err != nil {
		o.log.Warn("failed to parse bold font", zap.Error(err))
		return
	}

	face := func(f *opentype.Font, size float64) font.Face {
		if err != nil {
			return nil
		}
		var ff font.Face
		ff, err = opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
		return ff
	}
	o.fontSmall = face(regular, 12)
	o.fontMedium = face(bold, 20)
	o.fontLarge = face(bold, 72)
	if err != nil {
		o.log.Warn("failed to create font face", zap.Error(err))
		return
	}
	o.fontsLoaded = true
}

func (o *Overlay) setFont(dc *gg.Context, f font.Face) {
	if o.fontsLoaded && f != nil {
		dc.SetFontFace(f)
	}
}

// Compose draws frame (which may be nil) and the HUD for snap into a new
// context of arena size plus the text area.
func (o *Overlay) Compose(frame image.Image, snap *game.MatchSnapshot) *gg.Context {
	w, h := o.arena.Width(), o.arena.Height()
	dc := gg.NewContext(w, h+o.arena.HUD)
	dc.SetColor(color.Black)
	dc.Clear()
	if frame != nil {
		dc.DrawImage(frame, 0, 0)
	}
	if snap == nil {
		return dc
	}

	switch snap.Phase {
	case game.PhaseSetup:
		o.drawBanner(dc, "Welcome to Battle Bots. Start the match to begin.")
		o.drawRules(dc, snap)
	case game.PhaseCountdown:
		o.drawCountdown(dc, snap)
	case game.PhasePaused:
		o.drawBanner(dc, "Game Paused. Showing Instant Replay.")
	case game.PhaseRoundOver:
		if o.rules.Cumulative {
			o.drawBanner(dc, fmt.Sprintf("%s Leading After %d Round%s.", snap.Leader, snap.Round, plural(snap.Round)))
		} else {
			o.drawBanner(dc, fmt.Sprintf("%s Wins Round %d.", snap.Leader, snap.Round))
		}
		o.drawStats(dc, snap)
	case game.PhaseWinner:
		if o.rules.Cumulative {
			o.drawBanner(dc, fmt.Sprintf("%s Wins after %d Round%s!", snap.Winner, snap.Round, plural(snap.Round)))
		} else {
			o.drawBanner(dc, fmt.Sprintf("%s Wins the Final Round!", snap.Winner))
		}
		o.drawStats(dc, snap)
	}

	o.drawTextArea(dc, snap)
	return dc
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// drawBanner paints a translucent bar along the bottom of the arena.
func (o *Overlay) drawBanner(dc *gg.Context, text string) {
	bottom := o.arena.Bottom
	dc.SetColor(colorBar)
	dc.DrawRectangle(0, bottom-30, o.arena.Right, 26)
	dc.Fill()
	o.setFont(dc, o.fontMedium)
	dc.SetColor(colorText)
	dc.DrawString(text, 10, bottom-10)
}

func (o *Overlay) finalRound(snap *game.MatchSnapshot) bool {
	left := 0
	for i := range snap.Agents {
		if !snap.Agents[i].Flagged() {
			left++
		}
	}
	return left <= o.rules.EliminationsPerRound+1
}

func (o *Overlay) drawCountdown(dc *gg.Context, snap *game.MatchSnapshot) {
	title := fmt.Sprintf("Round %d", snap.Round)
	if o.finalRound(snap) {
		title = "Final Round"
	}
	o.setFont(dc, o.fontLarge)
	dc.SetColor(colorText)
	cx, cy := o.arena.Right/2, (o.arena.Top+o.arena.Bottom)/2
	dc.DrawStringAnchored(title, cx, cy-40, 0.5, 0.5)

	secs := int(math.Ceil(float64(snap.Countdown) / float64(o.rules.TickRate)))
	dc.DrawStringAnchored(fmt.Sprintf("%d", secs), cx, cy+50, 0.5, 0.5)
}

func (o *Overlay) drawRules(dc *gg.Context, snap *game.MatchSnapshot) {
	r := o.rules
	m := 1.0 // round 1 multiplier
	lines := []string{
		fmt.Sprintf("- %d robots to start", len(snap.Agents)),
		fmt.Sprintf("- each round lasts %g seconds", r.TimeLimit),
		fmt.Sprintf("- %d robots eliminated each round", r.EliminationsPerRound),
		fmt.Sprintf("- each robot can have %d bullets active at once", r.NumBullets),
		fmt.Sprintf("- each robot can send %d messages per round", r.MessageCap()),
		fmt.Sprintf("- each robot has %g seconds of processor time", r.ProcessorLimit),
	}
	scoring := []string{
		fmt.Sprintf("- %.1f points per kill, %.1f points per 10 seconds of survival", r.KillPoints*m, r.PointsPerSecond*m*10),
		fmt.Sprintf("- %g point bonus for each unused second of processor time", r.EfficiencyBonus),
		fmt.Sprintf("- %g point penalty for each error raised", r.ErrorPenalty),
	}
	if r.Cumulative {
		scoring = append(scoring, "- scores accumulate from round to round")
	} else {
		scoring = append(scoring, "- robots' scores are reset between rounds")
	}

	y := (o.arena.Top + o.arena.Bottom) / 2
	section := func(title string, body []string) {
		o.setFont(dc, o.fontMedium)
		dc.SetColor(colorText)
		dc.DrawString(title, 10, y)
		y += 18
		o.setFont(dc, o.fontSmall)
		dc.SetColor(colorSubtle)
		for _, l := range body {
			dc.DrawString(l, 10, y)
			y += 15
		}
		y += 12
	}
	section("The Rules", lines)
	section("Scoring", scoring)
}

// drawStats paints the standings table over the arena.
func (o *Overlay) drawStats(dc *gg.Context, snap *game.MatchSnapshot) {
	rows := game.StandingsFor(snap.Agents)
	const rowHeight = 14.0
	top := o.arena.Top + 20

	dc.SetColor(colorTableBox)
	dc.DrawRectangle(0, top-rowHeight-5, o.arena.Right, rowHeight*float64(len(rows)+1)+10)
	dc.Fill()

	o.setFont(dc, o.fontSmall)
	dc.SetColor(colorText)
	dc.DrawString(statsHeader, 10, top)
	y := top
	for _, row := range rows {
		y += rowHeight
		switch row.Status {
		case "out", "eliminated":
			dc.SetColor(colorDim)
		default:
			dc.SetColor(colorSubtle)
		}
		dc.DrawString(statsLine(row), 10, y)
	}
}

const statsHeader = "Rank Name     Team     Round  Total Kills Errs   CPU Msgs Killed by"

func statsLine(s game.Standing) string {
	a := s.Agent
	killedBy := a.KilledBy
	if killedBy == "" {
		killedBy = s.Status
	}
	return fmt.Sprintf("%4d %-8s %-8s %5.1f %6.1f %5d %4d %5.2f %4d %s",
		s.Rank, clip(a.Name, 8), clip(a.Team, 8), a.Score, s.Total,
		a.Kills, a.Exceptions, a.ThinkTime.Seconds(), a.Messages, killedBy)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// drawTextArea paints the clock and the newest messages below the arena.
func (o *Overlay) drawTextArea(dc *gg.Context, snap *game.MatchSnapshot) {
	top := o.arena.Bottom
	o.setFont(dc, o.fontSmall)

	left := math.Max(snap.TimeLimit-snap.Elapsed, 0)
	clock := fmt.Sprintf("%d:%02d", int(left)/60, int(left)%60)
	status := fmt.Sprintf("Round %d  %s  x%d  %d live  %s", snap.Round, clock, snap.Speed, snap.LiveCount, snap.Display)
	dc.SetColor(colorAccent)
	dc.DrawStringAnchored(status, o.arena.Right-10, top+16, 1, 0)

	dc.SetColor(colorSubtle)
	y := top + 16
	for i, line := range snap.Messages {
		if i == hudMessages {
			break
		}
		dc.DrawString(clip(strings.TrimSpace(line), 70), 10, y)
		y += 16
	}
}

// EncodePNG writes the composed frame as a PNG.
func EncodePNG(w io.Writer, dc *gg.Context) error {
	return dc.EncodePNG(w)
}

// Screen pairs the frame ring with the HUD to produce what a viewer sees.
type Screen struct {
	Ring    *ReplayBuffer
	Overlay *Overlay
}

// RenderPNG composes the current frame with the HUD for snap and writes
// it as a PNG.
func (s *Screen) RenderPNG(w io.Writer, snap *game.MatchSnapshot) error {
	var frame image.Image
	if cur := s.Ring.Current(); cur != nil {
		frame = cur
	}
	return EncodePNG(w, s.Overlay.Compose(frame, snap))
}
