// Package consensus 实现两轮多模型投票：第一轮独立决策，第二轮参考第一轮结果复议，最后加权仲裁。
package consensus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"quorum/internal/decision"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/metrics"
	"quorum/internal/prompt"
)

// DefaultMajorityThreshold 是加权多数阈值的默认值。
const DefaultMajorityThreshold = 2.0 / 3.0

// Member 是一个投票成员及其配置。
type Member struct {
	Provider        provider.Provider
	Weight          float64
	Priority        int
	Timeout         time.Duration
	CostPer1kTokens float64
}

func (m Member) name() string { return m.Provider.Name() }

type Config struct {
	MinQuorum         int
	MajorityThreshold float64
	TieBreak          TieBreak
}

type Service struct {
	members []Member
	cfg     Config
	now     func() time.Time
}

func NewService(members []Member, cfg Config) (*Service, error) {
	if len(members) == 0 {
		return nil, errors.New("consensus: no providers configured")
	}
	seen := make(map[string]bool, len(members))
	out := make([]Member, 0, len(members))
	for i, m := range members {
		if m.Provider == nil {
			return nil, fmt.Errorf("consensus: member %d has nil provider", i)
		}
		name := m.name()
		if seen[name] {
			return nil, fmt.Errorf("consensus: duplicate provider %q", name)
		}
		seen[name] = true
		if m.Weight <= 0 {
			m.Weight = 1
		}
		out = append(out, m)
	}
	if cfg.MinQuorum <= 0 {
		cfg.MinQuorum = 1
	}
	if cfg.MinQuorum > len(out) {
		return nil, fmt.Errorf("consensus: min_quorum %d exceeds provider count %d", cfg.MinQuorum, len(out))
	}
	if cfg.MajorityThreshold <= 0 {
		cfg.MajorityThreshold = DefaultMajorityThreshold
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakHold
	}
	return &Service{members: out, cfg: cfg, now: time.Now}, nil
}

// Weights 返回成员名称到权重的映射。
func (s *Service) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.members))
	for _, m := range s.members {
		out[m.name()] = m.Weight
	}
	return out
}

// Decide 跑完两轮并仲裁。ctx 取消时丢弃已有结果直接返回 ctx.Err()。
func (s *Service) Decide(ctx context.Context, cycleID string, snap decision.MarketSnapshot) (decision.ConsensusDecision, error) {
	round1, err := s.round(ctx, provider.DecideRequest{
		CycleID:  cycleID,
		Round:    prompt.RoundIndependent,
		Snapshot: snap,
	}, s.members)
	if err != nil {
		return decision.ConsensusDecision{}, err
	}

	// 第二轮只邀请第一轮成功作答的成员
	responders := make([]Member, 0, len(round1))
	for _, m := range s.members {
		if _, ok := round1[m.name()]; ok {
			responders = append(responders, m)
		}
	}
	round2, err := s.round(ctx, provider.DecideRequest{
		CycleID:  cycleID,
		Round:    prompt.RoundReconsideration,
		Snapshot: snap,
		Previous: round1,
	}, responders)
	if err != nil {
		return decision.ConsensusDecision{}, err
	}

	votes := make([]Vote, 0, len(round2))
	for _, m := range s.members {
		d, ok := round2[m.name()]
		if !ok {
			continue
		}
		votes = append(votes, Vote{Provider: m.name(), Decision: d, Weight: m.Weight, Priority: m.Priority})
	}
	verdict := Arbitrate(votes, s.cfg.MajorityThreshold, s.cfg.TieBreak)
	out := decision.ConsensusDecision{
		CycleID:         cycleID,
		Symbol:          snap.Symbol,
		Round1:          round1,
		Round2:          round2,
		FinalAction:     verdict.Action,
		FinalConfidence: verdict.Confidence,
		MajorityLock:    verdict.MajorityLock,
		Tally:           verdict.Tally,
		CreatedAt:       s.now(),
	}
	metrics.ConsensusDecisions.WithLabelValues(snap.Symbol, string(out.FinalAction), strconv.FormatBool(out.MajorityLock)).Inc()
	logger.Infof("[%s] 共识结果 %s conf=%d lock=%v tally=%s", snap.Symbol, out.FinalAction, out.FinalConfidence, out.MajorityLock, formatTally(verdict.Tally))
	return out, nil
}

type callResult struct {
	name     string
	decision decision.AiDecision
	err      error
}

// round 并发调用所有成员，每个调用受自身超时约束，全部返回或超时后汇总。
func (s *Service) round(ctx context.Context, req provider.DecideRequest, members []Member) (decision.Round, error) {
	results := make([]callResult, len(members))
	var eg errgroup.Group
	for i, m := range members {
		i, m := i, m
		eg.Go(func() error {
			results[i] = s.call(ctx, m, req)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(decision.Round, len(members))
	failures := make(map[string]error)
	for _, r := range results {
		if r.err != nil {
			failures[r.name] = r.err
			logger.Warnf("[%s] %s %s 未响应: %v", req.Snapshot.Symbol, req.Round, r.name, r.err)
			continue
		}
		out[r.name] = r.decision
	}
	if len(out) < s.cfg.MinQuorum {
		metrics.QuorumFailures.WithLabelValues(req.Round).Inc()
		return nil, &QuorumError{
			Round:     req.Round,
			Responded: len(out),
			Required:  s.cfg.MinQuorum,
			Failures:  failures,
		}
	}
	return out, nil
}

func (s *Service) call(ctx context.Context, m Member, req provider.DecideRequest) callResult {
	name := m.name()
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, m.Timeout)
	}
	defer cancel()

	start := time.Now()
	done := make(chan callResult, 1)
	go func() {
		d, err := m.Provider.Decide(callCtx, req)
		if err == nil {
			err = d.Validate()
		}
		done <- callResult{name: name, decision: d, err: err}
	}()

	var res callResult
	select {
	case <-callCtx.Done():
		res = callResult{name: name, err: callCtx.Err()}
	case res = <-done:
	}
	metrics.ProviderLatency.WithLabelValues(name, req.Round).Observe(time.Since(start).Seconds())
	if res.err != nil {
		metrics.ProviderFailures.WithLabelValues(name, req.Round).Inc()
		return res
	}
	if res.decision.TokensUsed > 0 {
		metrics.ProviderTokens.WithLabelValues(name).Add(float64(res.decision.TokensUsed))
		if m.CostPer1kTokens > 0 {
			metrics.ProviderCost.WithLabelValues(name).Add(float64(res.decision.TokensUsed) / 1000 * m.CostPer1kTokens)
		}
	}
	return res
}

func formatTally(t map[decision.Action]float64) string {
	parts := make([]string, 0, len(t))
	for _, act := range decision.Actions {
		if w, ok := t[act]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.2f", act, w))
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}
