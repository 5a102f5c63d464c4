package consensus

import (
	"math"
	"sort"
	"strings"

	"quorum/internal/decision"
)

// TieBreak 决定未达多数阈值时的最终动作。
type TieBreak string

const (
	TieBreakHold     TieBreak = "hold"
	TieBreakPriority TieBreak = "priority"
)

const weightEpsilon = 1e-9

// Vote 是第二轮中一个成员的投票。Priority 越小越优先。
type Vote struct {
	Provider string
	Decision decision.AiDecision
	Weight   float64
	Priority int
}

type Verdict struct {
	Action       decision.Action
	Confidence   int
	MajorityLock bool
	Tally        map[decision.Action]float64
}

// Arbitrate 对投票做加权多数决。
// 得票权重占比 >= threshold 且无并列时锁定多数；否则按 tie 规则兜底：
// hold 直接观望，priority 取最高权重动作中优先级最高成员的动作。
func Arbitrate(votes []Vote, threshold float64, tie TieBreak) Verdict {
	tally := make(map[decision.Action]float64, len(decision.Actions))
	total := 0.0
	for _, v := range votes {
		w := v.Weight
		if w <= 0 {
			continue
		}
		tally[v.Decision.Action] += w
		total += w
	}
	out := Verdict{Action: decision.ActionHold, Tally: tally}
	if total <= 0 {
		return out
	}

	top := topActions(tally)
	if len(top) == 1 && tally[top[0]]/total+weightEpsilon >= threshold {
		out.Action = top[0]
		out.MajorityLock = true
		out.Confidence = weightedConfidence(votes, top[0])
		return out
	}

	switch tie {
	case TieBreakPriority:
		out.Action = byPriority(votes, top)
	default:
		out.Action = decision.ActionHold
	}
	out.Confidence = weightedConfidence(votes, out.Action)
	return out
}

// topActions 返回权重最高的动作（可能并列），按 decision.Actions 顺序。
func topActions(tally map[decision.Action]float64) []decision.Action {
	best := 0.0
	for _, w := range tally {
		if w > best {
			best = w
		}
	}
	var out []decision.Action
	for _, act := range decision.Actions {
		if w, ok := tally[act]; ok && w > 0 && math.Abs(w-best) <= weightEpsilon {
			out = append(out, act)
		}
	}
	return out
}

func byPriority(votes []Vote, candidates []decision.Action) decision.Action {
	allowed := make(map[decision.Action]bool, len(candidates))
	for _, a := range candidates {
		allowed[a] = true
	}
	pool := make([]Vote, 0, len(votes))
	for _, v := range votes {
		if v.Weight > 0 && allowed[v.Decision.Action] {
			pool = append(pool, v)
		}
	}
	if len(pool) == 0 {
		return decision.ActionHold
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Priority != pool[j].Priority {
			return pool[i].Priority < pool[j].Priority
		}
		return strings.Compare(pool[i].Provider, pool[j].Provider) < 0
	})
	return pool[0].Decision.Action
}

// weightedConfidence 返回投给 act 的成员置信度的加权平均，裁剪到 [0,100]。
func weightedConfidence(votes []Vote, act decision.Action) int {
	sum, weight := 0.0, 0.0
	for _, v := range votes {
		if v.Weight <= 0 || v.Decision.Action != act {
			continue
		}
		sum += float64(v.Decision.Confidence) * v.Weight
		weight += v.Weight
	}
	if weight == 0 {
		return 0
	}
	c := math.Round(sum / weight)
	return int(math.Max(0, math.Min(100, c)))
}
