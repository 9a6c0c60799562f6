package bots

import (
	"image"
	"strings"
	"testing"
	"time"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"github.com/fogleman/gg"
	lua "github.com/yuin/gopher-lua"
)

const chattyScript = `
name = "Scripty"
team = "Moon"
rounds = 0
inbox = {}
images = {"a.png", "b.png"}

function new_round() rounds = rounds + 1 end

function move(self, can_fire, live, dead, bullets)
  if #live > 0 and can_fire then return FIRE_LEFT end
  if #bullets > 0 then return DOWN end
  return UP
end

function outgoing_message()
  if rounds > 0 then return "hi from " .. ordinal end
end

function incoming_message(from, text) table.insert(inbox, text) end
`

func mustLua(t *testing.T, src string, opts LuaOptions) *LuaBot {
	t.Helper()
	b, err := NewLuaBot("test.lua", src, opts)
	if err != nil {
		t.Fatalf("NewLuaBot: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

// expectPanic runs fn and returns the recovered error.
func expectPanic(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		v := recover()
		if v == nil {
			t.Fatal("Expected a panic")
		}
		err, _ = v.(error)
	}()
	fn()
	return nil
}

func TestLuaBotCallbacks(t *testing.T) {
	b := mustLua(t, chattyScript, LuaOptions{Radius: 10})

	if b.Name() != "Scripty" || b.Team() != "Moon" {
		t.Errorf("Identity = %q/%q", b.Name(), b.Team())
	}
	if got := b.ImageNames(); len(got) != 2 || got[0] != "a.png" {
		t.Errorf("ImageNames = %v", got)
	}
	if msg := b.OutgoingMessage(); msg != "" {
		t.Errorf("Message before new_round = %q", msg)
	}

	b.AssignOrdinal(3)
	b.NewRound()
	if msg := b.OutgoingMessage(); msg != "hi from 3" {
		t.Errorf("OutgoingMessage = %q", msg)
	}

	self := game.AgentRecord{Name: "Scripty", X: 10, Y: 10}
	tests := []struct {
		name    string
		canFire bool
		live    []game.AgentRecord
		bullets []game.Projectile
		want    game.Move
	}{
		{"alone", true, nil, nil, game.MoveUp},
		{"target", true, []game.AgentRecord{{Name: "x"}}, nil, game.MoveFireLeft},
		{"no ammo", false, []game.AgentRecord{{Name: "x"}}, nil, game.MoveUp},
		{"incoming", true, nil, []game.Projectile{{Owner: 1}}, game.MoveDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m := b.Move(self, tt.canFire, tt.live, nil, tt.bullets); m != tt.want {
				t.Errorf("Move = %v, want %v", m, tt.want)
			}
		})
	}

	b.IncomingMessage(game.SystemSender, "hello")
	inbox, ok := b.L.GetGlobal("inbox").(*lua.LTable)
	if !ok || inbox.Len() != 1 {
		t.Errorf("inbox = %v", b.L.GetGlobal("inbox"))
	}
}

func TestLuaBotDefaults(t *testing.T) {
	b := mustLua(t, "", LuaOptions{Radius: 10})
	if b.Name() != "" || b.ImageNames() != nil || b.OutgoingMessage() != "" {
		t.Error("An empty script should fall back to defaults")
	}
	if m := b.Move(game.AgentRecord{}, true, nil, nil, nil); m != game.MoveStay {
		t.Errorf("Move = %v, want stay", m)
	}
	b.NewRound()
	b.IncomingMessage(1, "ignored")
}

func TestLuaRestrictedLibs(t *testing.T) {
	b := mustLua(t, `name = tostring(io == nil and os == nil and dofile == nil and loadfile == nil)`, LuaOptions{})
	if b.Name() != "true" {
		t.Error("io, os, dofile and loadfile must not be reachable")
	}
}

func TestLuaErrorsPanic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		call func(b *LuaBot)
	}{
		{"runtime error", `function move() error("boom") end`, func(b *LuaBot) {
			b.Move(game.AgentRecord{}, true, nil, nil, nil)
		}},
		{"gfx outside draw", `function move() gfx.circle(1, 1, 1) return UP end`, func(b *LuaBot) {
			b.Move(game.AgentRecord{}, true, nil, nil, nil)
		}},
		{"name function error", `function name() return nil .. "x" end`, func(b *LuaBot) {
			b.Name()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustLua(t, tt.src, LuaOptions{})
			err := expectPanic(t, func() { tt.call(b) })
			if err == nil || !strings.Contains(err.Error(), "test.lua") {
				t.Errorf("Panic value = %v", err)
			}
		})
	}
}

func TestLuaTimeout(t *testing.T) {
	b := mustLua(t, `function move() while true do end end`, LuaOptions{Timeout: 20 * time.Millisecond})
	start := time.Now()
	err := expectPanic(t, func() { b.Move(game.AgentRecord{}, true, nil, nil, nil) })
	if err == nil {
		t.Fatal("Expected an error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Deadline was not enforced")
	}
}

func TestLuaCompileError(t *testing.T) {
	if _, err := NewLuaBot("bad.lua", "function (", LuaOptions{}); err == nil {
		t.Error("Expected a compile error")
	}
}

func TestLuaDraw(t *testing.T) {
	b := mustLua(t, `
function draw(x, y)
  gfx.color(255, 0, 0)
  gfx.rect(x, y, SIZE, SIZE)
end`, LuaOptions{Radius: 10})

	dc := gg.NewContext(50, 50)
	b.Draw(dc, 10, 10)

	img := dc.Image().(*image.RGBA)
	if c := img.RGBAAt(15, 15); c.R != 255 || c.G != 0 {
		t.Errorf("Pixel = %+v, want red", c)
	}
	if c := img.RGBAAt(40, 40); c.A != 0 {
		t.Errorf("Painted outside the square: %+v", c)
	}
}

func TestLuaDrawImage(t *testing.T) {
	b := mustLua(t, `function draw(x, y) gfx.image(2, x, y) end`, LuaOptions{Radius: 10})

	src := gg.NewContext(4, 4)
	src.SetRGB(0, 0, 1)
	src.Clear()
	b.LoadedImages([]image.Image{nil, src.Image()})

	dc := gg.NewContext(50, 50)
	b.Draw(dc, 0, 0)
	if c := dc.Image().(*image.RGBA).RGBAAt(10, 10); c.B != 255 {
		t.Errorf("Pixel = %+v, want blue", c)
	}

	b.LoadedImages([]image.Image{nil, nil})
	expectPanic(t, func() { b.Draw(dc, 0, 0) })
}

// TestLuaBotFaultsInEngine seats a failing script and checks the engine
// charges the error to it
func TestLuaBotFaultsInEngine(t *testing.T) {
	faulty := mustLua(t, `name = "Faulty" function move() error("nope") end`, LuaOptions{Radius: 10})
	rules := config.DefaultRules()
	rules.NumBots = 2
	rules.EliminationsPerRound = 1
	rules.CountdownTicks = 1

	e, err := game.NewEngine(game.EngineConfig{
		Rules:     rules,
		Arena:     config.DefaultArena(),
		Seed:      1,
		FixedStep: true,
	}, []game.Strategy{faulty, NewSentry("Sentry01", 10, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.BeginRound(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		e.Step()
	}

	for _, r := range e.Records() {
		if r.Name == "Faulty" && r.Exceptions == 0 {
			t.Error("Script errors should count as faults")
		}
	}
	var announced bool
	for _, line := range e.Messages(0) {
		if strings.Contains(line, "Faulty raised an error.") {
			announced = true
		}
	}
	if !announced {
		t.Errorf("Missing fault announcement in %v", e.Messages(0))
	}
}
