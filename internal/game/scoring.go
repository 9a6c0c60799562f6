package game

import (
	"sort"

	"bot-arena/internal/config"
)

// Score evaluates the scoring formula for one record in round r.
//
//	base  = kills*KillPoints*m - faults*ErrorPenalty + EfficiencyBonus*(budget - cpu)
//	score = max(base, 0) + PointsPerSecond*survived*m
//
// where m = (r+1)/2. survived is the full round for agents alive when the
// round is over, the time of death for dead agents, and the elapsed time
// otherwise.
func Score(r *AgentRecord, rules config.Rules, round int, elapsed float64, roundOver bool) float64 {
	mult := float64(round+1) / 2

	s := rules.KillPoints*float64(r.Kills)*mult -
		rules.ErrorPenalty*float64(r.Exceptions) +
		rules.EfficiencyBonus*(rules.ProcessorLimit-r.ThinkTime.Seconds())
	s = max(s, 0)

	var survived float64
	switch {
	case r.Dead:
		survived = r.TimeOfDeath
	case roundOver:
		survived = rules.TimeLimit
	default:
		survived = elapsed
	}
	s += rules.PointsPerSecond * survived * mult
	return max(s, 0)
}

func (e *Engine) score(r *AgentRecord, roundOver bool) float64 {
	return Score(r, e.rules, e.round, e.elapsed, roundOver)
}

// refreshScores recomputes every record still in the tournament.
func (e *Engine) refreshScores(roundOver bool) {
	for i := range e.records {
		r := &e.records[i]
		if r.Out {
			continue
		}
		r.Score = e.score(r, roundOver)
	}
}

// Rank returns ordinals ordered by score plus cumulative score. The sort
// is stable, so equal totals keep ordinal order, except that in
// descending order an unflagged agent goes ahead of a flagged one.
func Rank(records []AgentRecord, descending bool) []int {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := &records[order[a]], &records[order[b]]
		ta, tb := ra.Total(), rb.Total()
		if !descending {
			return ta < tb
		}
		if ta != tb {
			return ta > tb
		}
		return !ra.Flagged() && rb.Flagged()
	})
	return order
}

// selectEliminations walks the descending ranking from the bottom and
// returns up to count agents that are not already out or flagged.
func selectEliminations(records []AgentRecord, count int) []int {
	desc := Rank(records, true)
	var picked []int
	for k := len(desc) - 1; k >= 0 && len(picked) < count; k-- {
		i := desc[k]
		if records[i].Flagged() {
			continue
		}
		picked = append(picked, i)
	}
	return picked
}

// remaining counts agents neither out nor flagged for elimination.
func remaining(records []AgentRecord) int {
	n := 0
	for i := range records {
		if !records[i].Flagged() {
			n++
		}
	}
	return n
}

// Standing is one row of the leaderboard.
type Standing struct {
	Rank   int         `json:"rank"`
	Total  float64     `json:"total"`
	Status string      `json:"status"`
	Agent  AgentRecord `json:"agent"`
}

// StandingsFor ranks records best first and labels each with its status.
func StandingsFor(records []AgentRecord) []Standing {
	desc := Rank(records, true)
	out := make([]Standing, len(desc))
	for k, i := range desc {
		r := records[i]
		out[k] = Standing{Rank: k + 1, Total: r.Total(), Status: status(&r), Agent: r}
	}
	return out
}

func status(r *AgentRecord) string {
	switch {
	case r.Out:
		return "out"
	case r.OutNext:
		return "eliminated"
	case r.Dead:
		return "dead"
	case r.Overheated:
		return "overheated"
	default:
		return "alive"
	}
}
