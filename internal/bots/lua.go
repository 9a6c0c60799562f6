package bots

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bot-arena/internal/game"

	"github.com/fogleman/gg"
	lua "github.com/yuin/gopher-lua"
)

var luaColor = color.RGBA{154, 205, 50, 255}

// LuaOptions configures a scripted strategy.
type LuaOptions struct {
	Radius  float64
	Timeout time.Duration // hard deadline per call, 0 = none
}

// LuaBot is a strategy implemented by a Lua script. The script defines any
// of these globals; missing ones fall back to harmless defaults:
//
//	name, team                     string or function returning one
//	new_round()
//	move(self, can_fire, live, dead, bullets) -> move code
//	outgoing_message() -> string or nil
//	incoming_message(from, text)
//	images                         table of asset names
//	draw(x, y)                     paints through the gfx table
//
// Only the base, table, string and math libraries are available. Script
// errors panic out of the call so the arena sandbox records a fault.
type LuaBot struct {
	L       *lua.LState
	file    string
	size    float64
	timeout time.Duration

	dc     *gg.Context // valid during draw only
	images []image.Image
}

// LoadLuaBot reads and compiles the script at path.
func LoadLuaBot(path string, opts LuaOptions) (*LuaBot, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return NewLuaBot(filepath.Base(path), string(src), opts)
}

// NewLuaBot compiles src in a fresh restricted VM.
func NewLuaBot(file, src string, opts LuaOptions) (*LuaBot, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open %s: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	b := &LuaBot{L: L, file: file, size: opts.Radius * 2, timeout: opts.Timeout}
	b.registerAPI()

	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("load %s: %w", file, err)
	}
	return b, nil
}

// Close releases the VM.
func (b *LuaBot) Close() {
	b.L.Close()
}

var moveGlobals = map[string]game.Move{
	"STAY":         game.MoveStay,
	"UP":           game.MoveUp,
	"DOWN":         game.MoveDown,
	"LEFT":         game.MoveLeft,
	"RIGHT":        game.MoveRight,
	"FIRE_UP":      game.MoveFireUp,
	"FIRE_DOWN":    game.MoveFireDown,
	"FIRE_LEFT":    game.MoveFireLeft,
	"FIRE_RIGHT":   game.MoveFireRight,
	"SEND_MESSAGE": game.MoveSendMessage,
}

func (b *LuaBot) registerAPI() {
	L := b.L
	for name, m := range moveGlobals {
		L.SetGlobal(name, lua.LNumber(m))
	}
	L.SetGlobal("REFEREE", lua.LNumber(game.SystemSender))
	L.SetGlobal("SIZE", lua.LNumber(b.size))

	gfx := L.NewTable()
	L.SetFuncs(gfx, map[string]lua.LGFunction{
		"color":  b.gfxColor,
		"circle": b.gfxCircle,
		"rect":   b.gfxRect,
		"line":   b.gfxLine,
		"text":   b.gfxText,
		"image":  b.gfxImage,
	})
	L.SetGlobal("gfx", gfx)
}

// call runs global fn with args. A missing global returns nil; a script
// error panics.
func (b *LuaBot) call(fn string, nret int, args ...lua.LValue) []lua.LValue {
	f, ok := b.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil
	}
	if b.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.L.SetContext(ctx)
		defer b.L.RemoveContext()
	}
	if err := b.L.CallByParam(lua.P{Fn: f, NRet: nret, Protect: true}, args...); err != nil {
		panic(fmt.Errorf("%s: %s: %w", b.file, fn, err))
	}
	out := make([]lua.LValue, nret)
	for i := nret - 1; i >= 0; i-- {
		out[i] = b.L.Get(-1)
		b.L.Pop(1)
	}
	return out
}

// stringGlobal reads a string global or calls a function global.
func (b *LuaBot) stringGlobal(key string) string {
	v := b.L.GetGlobal(key)
	if _, ok := v.(*lua.LFunction); ok {
		v = b.call(key, 1)[0]
	}
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func (b *LuaBot) Name() string { return b.stringGlobal("name") }

func (b *LuaBot) Team() string { return b.stringGlobal("team") }

func (b *LuaBot) NewRound() { b.call("new_round", 0) }

func (b *LuaBot) AssignOrdinal(n int) {
	b.L.SetGlobal("ordinal", lua.LNumber(n))
}

func (b *LuaBot) Move(self game.AgentRecord, canFire bool, live, dead []game.AgentRecord, projectiles []game.Projectile) game.Move {
	out := b.call("move", 1,
		b.recordTable(self),
		lua.LBool(canFire),
		b.recordList(live),
		b.recordList(dead),
		b.projectileList(projectiles))
	if out == nil {
		return game.MoveStay
	}
	n, ok := out[0].(lua.LNumber)
	if !ok {
		return game.MoveStay
	}
	return game.Move(int(n))
}

func (b *LuaBot) OutgoingMessage() string {
	out := b.call("outgoing_message", 1)
	if out == nil {
		return ""
	}
	if s, ok := out[0].(lua.LString); ok {
		return string(s)
	}
	return ""
}

func (b *LuaBot) IncomingMessage(from int, msg string) {
	b.call("incoming_message", 0, lua.LNumber(from), lua.LString(msg))
}

func (b *LuaBot) ImageNames() []string {
	t, ok := b.L.GetGlobal("images").(*lua.LTable)
	if !ok {
		return nil
	}
	var names []string
	t.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			names = append(names, string(s))
		}
	})
	return names
}

func (b *LuaBot) LoadedImages(images []image.Image) {
	b.images = images
}

// Draw calls the script's draw function, or paints a plain disc.
func (b *LuaBot) Draw(dc *gg.Context, x, y int) {
	if _, ok := b.L.GetGlobal("draw").(*lua.LFunction); !ok {
		drawDisc(dc, x, y, b.size, luaColor)
		return
	}
	b.dc = dc
	defer func() { b.dc = nil }()
	b.call("draw", 0, lua.LNumber(x), lua.LNumber(y))
}

func (b *LuaBot) recordTable(r game.AgentRecord) *lua.LTable {
	t := b.L.NewTable()
	t.RawSetString("ordinal", lua.LNumber(r.Ordinal))
	t.RawSetString("name", lua.LString(r.Name))
	t.RawSetString("team", lua.LString(r.Team))
	t.RawSetString("x", lua.LNumber(r.X))
	t.RawSetString("y", lua.LNumber(r.Y))
	t.RawSetString("dead", lua.LBool(r.Dead))
	t.RawSetString("overheated", lua.LBool(r.Overheated))
	t.RawSetString("score", lua.LNumber(r.Score))
	t.RawSetString("kills", lua.LNumber(r.Kills))
	return t
}

func (b *LuaBot) recordList(rs []game.AgentRecord) *lua.LTable {
	t := b.L.CreateTable(len(rs), 0)
	for _, r := range rs {
		t.Append(b.recordTable(r))
	}
	return t
}

func (b *LuaBot) projectileList(ps []game.Projectile) *lua.LTable {
	t := b.L.CreateTable(len(ps), 0)
	for _, p := range ps {
		pt := b.L.NewTable()
		pt.RawSetString("x", lua.LNumber(p.Pos.X()))
		pt.RawSetString("y", lua.LNumber(p.Pos.Y()))
		pt.RawSetString("vx", lua.LNumber(p.Vel.X()))
		pt.RawSetString("vy", lua.LNumber(p.Vel.Y()))
		pt.RawSetString("owner", lua.LNumber(p.Owner))
		t.Append(pt)
	}
	return t
}

// canvas returns the active context or raises a Lua error outside draw.
func (b *LuaBot) canvas(L *lua.LState) *gg.Context {
	if b.dc == nil {
		L.RaiseError("gfx is only available inside draw")
	}
	return b.dc
}

func (b *LuaBot) gfxColor(L *lua.LState) int {
	dc := b.canvas(L)
	r, g, bl := L.CheckNumber(1), L.CheckNumber(2), L.CheckNumber(3)
	a := L.OptNumber(4, 255)
	dc.SetColor(color.RGBA{clampByte(r), clampByte(g), clampByte(bl), clampByte(a)})
	return 0
}

func (b *LuaBot) gfxCircle(L *lua.LState) int {
	dc := b.canvas(L)
	dc.DrawCircle(float64(L.CheckNumber(1)), float64(L.CheckNumber(2)), float64(L.CheckNumber(3)))
	fillOrStroke(L, dc, 4)
	return 0
}

func (b *LuaBot) gfxRect(L *lua.LState) int {
	dc := b.canvas(L)
	dc.DrawRectangle(float64(L.CheckNumber(1)), float64(L.CheckNumber(2)), float64(L.CheckNumber(3)), float64(L.CheckNumber(4)))
	fillOrStroke(L, dc, 5)
	return 0
}

func (b *LuaBot) gfxLine(L *lua.LState) int {
	dc := b.canvas(L)
	dc.DrawLine(float64(L.CheckNumber(1)), float64(L.CheckNumber(2)), float64(L.CheckNumber(3)), float64(L.CheckNumber(4)))
	dc.Stroke()
	return 0
}

func (b *LuaBot) gfxText(L *lua.LState) int {
	dc := b.canvas(L)
	dc.DrawString(L.CheckString(1), float64(L.CheckNumber(2)), float64(L.CheckNumber(3)))
	return 0
}

// gfxImage draws images[i] (1-based) scaled to the agent's square.
func (b *LuaBot) gfxImage(L *lua.LState) int {
	dc := b.canvas(L)
	i := L.CheckInt(1)
	x, y := float64(L.CheckNumber(2)), float64(L.CheckNumber(3))
	if i < 1 || i > len(b.images) || b.images[i-1] == nil {
		L.ArgError(1, "no such image")
	}
	img := b.images[i-1]
	w := img.Bounds().Dx()
	if w == 0 {
		return 0
	}
	scale := b.size / float64(w)
	dc.Push()
	dc.Translate(x, y)
	dc.Scale(scale, scale)
	dc.DrawImage(img, 0, 0)
	dc.Pop()
	return 0
}

// fillOrStroke fills unless the optional argument at idx is "line".
func fillOrStroke(L *lua.LState, dc *gg.Context, idx int) {
	if strings.EqualFold(L.OptString(idx, "fill"), "line") {
		dc.Stroke()
		return
	}
	dc.Fill()
}

func clampByte(n lua.LNumber) uint8 {
	switch {
	case n < 0:
		return 0
	case n > 255:
		return 255
	}
	return uint8(n)
}
