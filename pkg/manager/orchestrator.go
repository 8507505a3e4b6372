package manager

import (
	"context"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	executorpkg "nof0-api/pkg/executor"
	"nof0-api/pkg/market"
)

// agentOutcome carries one trader's agent-phase result across the fan-out
// join, so settleTrader can run against it sequentially afterward.
type agentOutcome struct {
	trader      *VirtualTrader
	ectx        executorpkg.Context
	out         *executorpkg.FullDecision
	decisionErr error
	paused      bool
}

// dispatchAgents implements the AgentOrchestrator module (spec.md §4.3, §5):
// within a cycle the only parallelism is the agent fan-out — each active
// trader's LLM call runs in its own goroutine, joined before validation, risk
// gating, execution and persistence run strictly sequentially per trader.
func (m *Manager) dispatchAgents(ctx context.Context, traders []*VirtualTrader, cycleID int64, snapshot *market.MarketSnapshot) (ok bool, lastErr string) {
	outcomes := make([]agentOutcome, len(traders))

	var wg sync.WaitGroup
	for i, t := range traders {
		outcomes[i].trader = t
		if m.isTraderPaused(ctx, t) {
			outcomes[i].paused = true
			continue
		}
		wg.Add(1)
		go func(i int, t *VirtualTrader) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logx.WithContext(ctx).Errorf("manager: cycle=%d trader=%s agent panic: %v", cycleID, t.ID, r)
					outcomes[i].decisionErr = panicError{r}
				}
			}()
			ectx, out, decisionErr := m.callAgent(t, cycleID, snapshot)
			outcomes[i].ectx = ectx
			outcomes[i].out = out
			outcomes[i].decisionErr = decisionErr
		}(i, t)
	}
	wg.Wait()

	ok = true
	for _, o := range outcomes {
		if o.paused {
			continue
		}
		if err := m.settleTrader(ctx, o.trader, cycleID, o.ectx, o.out, o.decisionErr); err != nil {
			ok = false
			lastErr = err.Error()
			logx.WithContext(ctx).Errorf("manager: cycle=%d trader=%s settle error: %v", cycleID, o.trader.ID, err)
		}
	}
	return ok, lastErr
}

type panicError struct{ value interface{} }

func (p panicError) Error() string {
	if err, ok := p.value.(error); ok {
		return err.Error()
	}
	return "recovered panic in agent goroutine"
}
