package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBeforeCaptureGate(t *testing.T) {
	t.Run("no handlers", func(t *testing.T) {
		m := newTestManager(t)
		if !m.BeforeCapture(context.Background(), &Context{}) {
			t.Fatalf("empty gate should allow capture")
		}
	})

	t.Run("false blocks later handlers", func(t *testing.T) {
		var after, validate, second bool
		m := newTestManager(t,
			newStub("deny", Hooks{BeforeCapture: func(context.Context, *Context) (bool, error) { return false, nil }}),
			newStub("later", Hooks{
				BeforeCapture: func(context.Context, *Context) (bool, error) {
					second = true
					return true, nil
				},
				AfterCapture: func(_ context.Context, _ *Context, r *CaptureResult) (*CaptureResult, error) {
					after = true
					return r, nil
				},
				ValidateResult: func(context.Context, *Context, *CaptureResult) (bool, error) {
					validate = true
					return true, nil
				},
			}),
		)
		if m.BeforeCapture(context.Background(), &Context{}) {
			t.Fatalf("gate should block")
		}
		if second || after || validate {
			t.Fatalf("handlers ran after a blocking gate: second=%v after=%v validate=%v", second, after, validate)
		}
	})

	t.Run("error blocks", func(t *testing.T) {
		m := newTestManager(t, newStub("err", Hooks{BeforeCapture: func(context.Context, *Context) (bool, error) {
			return true, errors.New("camera busy")
		}}))
		if m.BeforeCapture(context.Background(), &Context{}) {
			t.Fatalf("gate error should block")
		}
	})

	t.Run("panic blocks", func(t *testing.T) {
		m := newTestManager(t, newStub("panic", Hooks{BeforeCapture: func(context.Context, *Context) (bool, error) {
			panic("gate exploded")
		}}))
		if m.BeforeCapture(context.Background(), &Context{}) {
			t.Fatalf("gate panic should block")
		}
	})
}

func TestAfterCapturePropagatesErrors(t *testing.T) {
	replaced := NewCaptureResult(map[string]any{"vin": "replaced"}, 0.9)
	sentinel := errors.New("blurry")
	m := newTestManager(t,
		newStub("swap", Hooks{AfterCapture: func(context.Context, *Context, *CaptureResult) (*CaptureResult, error) {
			return replaced, nil
		}}),
		newStub("fail", Hooks{AfterCapture: func(_ context.Context, _ *Context, r *CaptureResult) (*CaptureResult, error) {
			if r != replaced {
				t.Errorf("second handler did not receive the replacement")
			}
			return nil, sentinel
		}}),
	)
	_, err := m.AfterCapture(context.Background(), &Context{}, NewCaptureResult(nil, 0.5))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}

func TestTransformResultSwallowsErrors(t *testing.T) {
	m := newTestManager(t,
		newStub("upper", Hooks{TransformResult: func(_ context.Context, _ *Context, r *CaptureResult) (*CaptureResult, error) {
			out := r.Clone()
			out.Data["vin"] = "ABC"
			return out, nil
		}}),
		newStub("broken", Hooks{TransformResult: func(context.Context, *Context, *CaptureResult) (*CaptureResult, error) {
			return NewCaptureResult(map[string]any{"vin": "lost"}, 0), errors.New("broken")
		}}),
		newStub("passthrough", Hooks{TransformResult: func(context.Context, *Context, *CaptureResult) (*CaptureResult, error) {
			return nil, nil
		}}),
	)
	out := m.TransformResult(context.Background(), &Context{}, NewCaptureResult(map[string]any{"vin": "abc"}, 0))
	if got := out.String("vin"); got != "ABC" {
		t.Fatalf("vin = %q, want last good value", got)
	}
}

func TestEnrichErrorDoesNotStopLaterHandlers(t *testing.T) {
	m := newTestManager(t,
		newStub("a", Hooks{EnrichResult: func(_ context.Context, _ *Context, r *CaptureResult) (*CaptureResult, error) {
			if err := r.Set("a", 1); err != nil {
				return nil, err
			}
			return nil, errors.New("provider down")
		}}),
		newStub("b", Hooks{EnrichResult: func(_ context.Context, _ *Context, r *CaptureResult) (*CaptureResult, error) {
			return r, r.Set("b", 2)
		}}),
	)
	out := m.EnrichResult(context.Background(), &Context{}, NewCaptureResult(nil, 0.9))
	if v, _ := out.Get("a", "a"); v != 1 {
		t.Fatalf("metadata a = %v", v)
	}
	if v, _ := out.Get("b", "b"); v != 2 {
		t.Fatalf("metadata b = %v", v)
	}
}

func TestMetadataWritesAreNamespaced(t *testing.T) {
	var crossWrite error
	m := newTestManager(t, newStub("ns", Hooks{AfterCapture: func(_ context.Context, _ *Context, r *CaptureResult) (*CaptureResult, error) {
		crossWrite = r.Set("key", "value")
		return nil, nil
	}}))
	r := NewCaptureResult(nil, 0)
	if err := r.Set("outside", true); !errors.Is(err, ErrReadOnlyResult) {
		t.Fatalf("expected read-only error outside a hook, got %v", err)
	}
	if _, err := m.AfterCapture(context.Background(), &Context{}, r); err != nil {
		t.Fatalf("after capture: %v", err)
	}
	if crossWrite != nil {
		t.Fatalf("set inside hook: %v", crossWrite)
	}
	if got := r.Namespace("ns")["key"]; got != "value" {
		t.Fatalf("namespace ns = %v", r.Metadata())
	}
	if len(r.Metadata()) != 1 {
		t.Fatalf("unexpected namespaces: %v", r.Metadata())
	}
	if err := r.Set("after", true); !errors.Is(err, ErrReadOnlyResult) {
		t.Fatalf("writer binding leaked after hook returned: %v", err)
	}
}

func TestValidateResultAllMustPass(t *testing.T) {
	pass := newStub("pass", Hooks{ValidateResult: func(context.Context, *Context, *CaptureResult) (bool, error) { return true, nil }})

	t.Run("all pass", func(t *testing.T) {
		m := newTestManager(t, pass)
		if err := m.ValidateResult(context.Background(), &Context{}, NewCaptureResult(nil, 0)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejection", func(t *testing.T) {
		ranAfter := false
		m := newTestManager(t,
			newStub("reject", Hooks{ValidateResult: func(context.Context, *Context, *CaptureResult) (bool, error) { return false, nil }}),
			newStub("after", Hooks{ValidateResult: func(context.Context, *Context, *CaptureResult) (bool, error) {
				ranAfter = true
				return true, nil
			}}),
		)
		err := m.ValidateResult(context.Background(), &Context{}, NewCaptureResult(nil, 0))
		if !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("expected validation failed, got %v", err)
		}
		if ranAfter {
			t.Fatalf("validation continued after rejection")
		}
	})

	t.Run("handler error", func(t *testing.T) {
		sentinel := errors.New("bad vin")
		m := newTestManager(t, newStub("err", Hooks{ValidateResult: func(context.Context, *Context, *CaptureResult) (bool, error) {
			return false, sentinel
		}}))
		if err := m.ValidateResult(context.Background(), &Context{}, NewCaptureResult(nil, 0)); !errors.Is(err, sentinel) {
			t.Fatalf("expected original error, got %v", err)
		}
	})
}

func TestOnErrorFirstDecisionWins(t *testing.T) {
	lastRan := false
	m := newTestManager(t,
		newStub("fails", Hooks{OnError: func(context.Context, *Context, error) (*RetryDecision, error) {
			return &RetryDecision{Retry: false}, errors.New("ignored")
		}}),
		newStub("abstains", Hooks{OnError: func(context.Context, *Context, error) (*RetryDecision, error) { return nil, nil }}),
		newStub("decides", Hooks{OnError: func(context.Context, *Context, error) (*RetryDecision, error) {
			return &RetryDecision{Retry: true, Delay: time.Second, Message: "hold steady"}, nil
		}}),
		newStub("last", Hooks{OnError: func(context.Context, *Context, error) (*RetryDecision, error) {
			lastRan = true
			return &RetryDecision{}, nil
		}}),
	)
	d := m.OnError(context.Background(), &Context{}, errors.New("low confidence"))
	if d == nil || !d.Retry || d.Message != "hold steady" {
		t.Fatalf("decision = %+v", d)
	}
	if lastRan {
		t.Fatalf("handlers after the winning decision ran")
	}
	if newTestManager(t).OnError(context.Background(), &Context{}, errors.New("x")) != nil {
		t.Fatalf("expected no decision without handlers")
	}
}

func TestNotifyHooksRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	var writeErr error
	var mu sync.Mutex
	handler := func(_ context.Context, _ *Context, r *CaptureResult) error {
		started.Done()
		<-release
		mu.Lock()
		defer mu.Unlock()
		if err := r.Set("late", true); err != nil {
			writeErr = err
		}
		return errors.New("notify failure is only logged")
	}
	m := newTestManager(t,
		newStub("one", Hooks{OnSuccess: handler}),
		newStub("two", Hooks{OnSuccess: handler}),
	)

	go func() {
		started.Wait()
		close(release)
	}()

	done := make(chan struct{})
	r := NewCaptureResult(nil, 0.9)
	go func() {
		m.OnSuccess(context.Background(), &Context{}, r)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("notify handlers did not run concurrently")
	}
	if !errors.Is(writeErr, ErrFrozenResult) {
		t.Fatalf("expected frozen result on success path, got %v", writeErr)
	}
}

func TestOnCancelAndOnRetryNotifyEveryHandler(t *testing.T) {
	var mu sync.Mutex
	var cancels, retries int
	hooks := Hooks{
		OnCancel: func(context.Context, *Context) error {
			mu.Lock()
			cancels++
			mu.Unlock()
			return nil
		},
		OnRetry: func(_ context.Context, _ *Context, attempt int) error {
			mu.Lock()
			retries += attempt
			mu.Unlock()
			panic("retry handler exploded")
		},
	}
	m := newTestManager(t, newStub("x", hooks), newStub("y", hooks))
	m.OnCancel(context.Background(), &Context{})
	m.OnRetry(context.Background(), &Context{}, 2)
	if cancels != 2 || retries != 4 {
		t.Fatalf("cancels=%d retries=%d", cancels, retries)
	}
}

func TestRenderCollectsInOrder(t *testing.T) {
	m := newTestManager(t,
		newStub("first", Hooks{RenderOverlay: func(*Context, *CaptureResult) (Node, error) { return "first", nil }}),
		newStub("nil", Hooks{RenderOverlay: func(*Context, *CaptureResult) (Node, error) { return nil, nil }}),
		newStub("err", Hooks{RenderOverlay: func(*Context, *CaptureResult) (Node, error) { return "lost", errors.New("x") }}),
		newStub("panic", Hooks{RenderOverlay: func(*Context, *CaptureResult) (Node, error) { panic("render") }}),
		newStub("last", Hooks{
			RenderOverlay:    func(*Context, *CaptureResult) (Node, error) { return "last", nil },
			RenderConfidence: func(_ *Context, r *CaptureResult) (Node, error) { return r.Confidence, nil },
		}),
	)
	nodes := m.RenderOverlay(&Context{})
	if len(nodes) != 2 || nodes[0] != "first" || nodes[1] != "last" {
		t.Fatalf("nodes = %v", nodes)
	}
	conf := m.RenderConfidence(&Context{}, NewCaptureResult(nil, 0.7))
	if len(conf) != 1 || conf[0] != 0.7 {
		t.Fatalf("confidence nodes = %v", conf)
	}
	if len(m.RenderToolbar(&Context{})) != 0 || len(m.RenderResult(&Context{}, nil)) != 0 {
		t.Fatalf("expected empty collections")
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	failed map[HookName]int
}

func (o *recordingObserver) ObserveHook(hook HookName, _ string, _ time.Duration, err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[hook]++
}

func TestObserverAndHookFailedEvents(t *testing.T) {
	obs := &recordingObserver{failed: map[HookName]int{}}
	m := NewManager(WithLogger(quietLogger()), WithObserver(obs))
	var events []Event
	unsubscribe := m.Subscribe(EventHookFailed, func(e Event) { events = append(events, e) })
	if err := m.Register(context.Background(), newStub("flaky", Hooks{EnrichResult: func(context.Context, *Context, *CaptureResult) (*CaptureResult, error) {
		return nil, errors.New("flaky")
	}})); err != nil {
		t.Fatalf("register: %v", err)
	}
	m.EnrichResult(context.Background(), &Context{}, NewCaptureResult(nil, 0))
	unsubscribe()
	m.EnrichResult(context.Background(), &Context{}, NewCaptureResult(nil, 0))

	if obs.failed[HookEnrichResult] != 2 {
		t.Fatalf("observer saw %d failures", obs.failed[HookEnrichResult])
	}
	if len(events) != 1 || events[0].Hook != HookEnrichResult || events[0].PluginID != "flaky" {
		t.Fatalf("events = %+v", events)
	}
}
