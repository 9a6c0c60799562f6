package game

// View is the world as one agent sees it when deciding. Every slice is
// freshly allocated and every element is a value copy, so nothing in a
// View aliases engine state or another agent's View.
type View struct {
	Self        AgentRecord
	Live        []AgentRecord
	Dead        []AgentRecord
	Projectiles []Projectile
}

// BuildView assembles the view for the agent at ordinal self from the
// current authoritative state. Live excludes self and retired agents;
// Dead holds agents killed this round that are still in the tournament.
func BuildView(records []AgentRecord, projectiles *ProjectileSet, self int) View {
	v := View{
		Self:        records[self].Copy(),
		Live:        make([]AgentRecord, 0, len(records)-1),
		Dead:        make([]AgentRecord, 0, len(records)),
		Projectiles: make([]Projectile, 0, projectiles.Len()),
	}
	for i := range records {
		r := &records[i]
		switch {
		case i == self || r.Out:
		case r.Dead:
			v.Dead = append(v.Dead, r.Copy())
		default:
			v.Live = append(v.Live, r.Copy())
		}
	}
	v.Projectiles = projectiles.AppendTo(v.Projectiles)
	return v
}
