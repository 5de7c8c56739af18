package session

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/agentscript/internal/evaluator"
	"github.com/haasonsaas/agentscript/internal/ids"
	"github.com/haasonsaas/agentscript/internal/observability"
)

// hostAdapter implements saferuntime.Host by delegating to the Session it
// wraps. It exists only to keep Session's own method set from being
// mistaken for the public API surface other packages are meant to call.
type hostAdapter Session

func (h *hostAdapter) session() *Session { return (*Session)(h) }

// CallTool implements saferuntime.Host. It budgets the call, registers it
// as pending, emits tool_call, and blocks until resolution, timeout,
// cancellation, or the session's own context ending.
func (h *hostAdapter) CallTool(ctx context.Context, name string, args evaluator.Value) (evaluator.Value, error) {
	s := h.session()

	if s.abort.Load() {
		return nil, context.Canceled
	}

	s.mu.Lock()
	if s.limits.MaxToolCalls > 0 && s.stats.ToolCallCount >= s.limits.MaxToolCalls {
		s.mu.Unlock()
		return nil, errToolCallLimit
	}
	s.stats.ToolCallCount++
	wasEmpty := len(s.pending) == 0
	s.mu.Unlock()

	callID := ids.NewCallID()
	argsJSON := evaluator.ToJSONLike(args)

	if s.recorder != nil {
		rctx := observability.AddSessionID(observability.AddToolCallID(ctx, callID), s.id)
		_ = s.recorder.RecordToolStart(rctx, name, argsJSON)
	}

	p := &pendingCall{
		callID:    callID,
		toolName:  name,
		createdAt: time.Now(),
		resultCh:  make(chan toolResolution, 1),
	}

	s.mu.Lock()
	s.pending[callID] = p
	if wasEmpty {
		if err := s.transitionTo(StateWaitingForTool); err != nil {
			delete(s.pending, callID)
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	s.emitter.EmitToolCall(callID, name, argsJSON)

	var toolTimer *time.Timer
	var timeoutCh <-chan time.Time
	if s.limits.ToolTimeoutMs > 0 {
		toolTimer = time.NewTimer(time.Duration(s.limits.ToolTimeoutMs) * time.Millisecond)
		timeoutCh = toolTimer.C
		defer toolTimer.Stop()
	}

	callStart := time.Now()
	recordEnd := func(value evaluator.Value, err error) {
		if s.recorder == nil {
			return
		}
		rctx := observability.AddSessionID(observability.AddToolCallID(ctx, callID), s.id)
		_ = s.recorder.RecordToolEnd(rctx, name, time.Since(callStart), evaluator.ToJSONLike(value), err)
	}

	select {
	case res := <-p.resultCh:
		recordEnd(res.value, res.err)
		return res.value, res.err
	case <-timeoutCh:
		s.dropPending(callID, toolResolution{err: errToolTimeout})
		recordEnd(nil, errToolTimeout)
		return nil, errToolTimeout
	case <-ctx.Done():
		s.dropPending(callID, toolResolution{err: ctx.Err()})
		recordEnd(nil, ctx.Err())
		return nil, ctx.Err()
	case <-s.ctx.Done():
		s.dropPending(callID, toolResolution{err: s.ctx.Err()})
		recordEnd(nil, s.ctx.Err())
		return nil, s.ctx.Err()
	}
}

// Parallel implements saferuntime.Host: it runs fns with bounded
// concurrency, each in its own goroutine, and returns their results (or
// the first error encountered) once every call has settled.
func (h *hostAdapter) Parallel(ctx context.Context, fns []*evaluator.Function, maxConcurrency int) ([]evaluator.Value, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	results := make([]evaluator.Value, len(fns))
	errs := make([]error, len(fns))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for i, fn := range fns {
		i, fn := i, fn
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			select {
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			default:
			}
			v, err := fn.Call(nil)
			results[i] = v
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Log implements saferuntime.Host: console.* output (PERMISSIVE preset
// only) is routed to the session's stdout event stream. Once the budget
// is exceeded it returns errStdoutLimit instead of emitting, so the
// overflow terminates the script immediately rather than waiting for a
// loop iteration or tool call that may never come.
func (h *hostAdapter) Log(line string) error {
	s := h.session()
	s.mu.Lock()
	s.stats.StdoutBytes += int64(len(line))
	exceeded := s.limits.MaxStdoutBytes > 0 && s.stats.StdoutBytes > s.limits.MaxStdoutBytes
	s.mu.Unlock()
	if exceeded {
		s.abort.Store(true)
		if s.recorder != nil {
			rctx := observability.AddSessionID(context.Background(), s.id)
			_ = s.recorder.RecordError(rctx, observability.EventTypeStdoutWrite, "stdout_limit_exceeded", errStdoutLimit, nil)
		}
		return errStdoutLimit
	}
	s.emitter.EmitStdout(line)
	if s.recorder != nil {
		rctx := observability.AddSessionID(context.Background(), s.id)
		_ = s.recorder.Record(rctx, observability.EventTypeStdoutWrite, "stdout_write", map[string]any{"bytes": len(line)})
	}
	return nil
}

// NowMs implements saferuntime.Host: the session's logical clock, the
// value Date.now() resolves to inside the script.
func (h *hostAdapter) NowMs() int64 {
	return h.session().clock.ElapsedMs()
}
