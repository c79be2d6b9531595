package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	return New(zerolog.Nop())
}

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo the message back",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["message"], nil
		},
	}
}

func TestRegisterTool(t *testing.T) {
	d := newTestDispatcher()

	require.NoError(t, d.RegisterTool(echoTool()))
	assert.Equal(t, 1, d.ToolCount())
	assert.NotNil(t, d.GetTool("echo"))

	err := d.RegisterTool(echoTool())
	assert.ErrorIs(t, err, ErrToolExists)
}

func TestRegisterToolValidation(t *testing.T) {
	d := newTestDispatcher()

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{"empty name", ToolDefinition{Description: "x", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }}},
		{"empty description", ToolDefinition{Name: "x", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }}},
		{"nil handler", ToolDefinition{Name: "x", Description: "x"}},
		{"bad parameter type", ToolDefinition{
			Name:        "x",
			Description: "x",
			Parameters:  []ToolParameter{{Name: "p", Type: "float", Description: "p"}},
			Handler:     func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, d.RegisterTool(tt.def))
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	d := newTestDispatcher()

	result := d.Execute(context.Background(), Request{Tool: "nope", Arguments: nil})

	assert.False(t, result.Success)
	assert.Equal(t, StateDenied, result.State)
	assert.Contains(t, result.Error, "not found")
	assert.Contains(t, result.Error, "nope")
}

func TestExecuteMissingRequiredArgument(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	result := d.Execute(context.Background(), Request{Tool: "echo", Arguments: map[string]interface{}{}})

	assert.Equal(t, StateDenied, result.State)
	assert.Contains(t, result.Error, "message", "the missing parameter must be named")
	assert.Contains(t, result.Error, "required")
}

func TestExecuteArgumentTypeMismatch(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	result := d.Execute(context.Background(), Request{
		Tool:      "echo",
		Arguments: map[string]interface{}{"message": 42},
	})

	assert.Equal(t, StateDenied, result.State)
	assert.Contains(t, result.Error, "message")
}

func TestExecuteRejectsUndeclaredArgument(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	result := d.Execute(context.Background(), Request{
		Tool:      "echo",
		Arguments: map[string]interface{}{"message": "hi", "extra": true},
	})

	assert.Equal(t, StateDenied, result.State)
}

func TestExecuteSuccess(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	result := d.Execute(context.Background(), Request{
		Tool:      "echo",
		Arguments: map[string]interface{}{"message": "hello"},
	})

	assert.True(t, result.Success)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "hello", result.Output)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.CallID)
	assert.Contains(t, result.Metadata, "duration_ms")
}

func TestExecutePrecheckDeniesVerbatim(t *testing.T) {
	d := newTestDispatcher()

	reason := `executable "format.com" is on the blocked list`
	def := echoTool()
	def.Name = "guarded"
	def.Precheck = func(ctx context.Context, args map[string]interface{}) error {
		return errors.New(reason)
	}
	executed := false
	def.Handler = func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		executed = true
		return nil, nil
	}
	require.NoError(t, d.RegisterTool(def))

	result := d.Execute(context.Background(), Request{
		Tool:      "guarded",
		Arguments: map[string]interface{}{"message": "x"},
	})

	assert.Equal(t, StateDenied, result.State)
	assert.Equal(t, reason, result.Error)
	assert.False(t, executed, "a denied call must never reach the handler")
	assert.Nil(t, result.Output)
}

func TestExecuteTimeout(t *testing.T) {
	d := newTestDispatcher()

	def := ToolDefinition{
		Name:        "slow",
		Description: "sleeps past the deadline",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			time.Sleep(500 * time.Millisecond)
			return "late", nil
		},
	}
	require.NoError(t, d.RegisterTool(def))

	result := d.Execute(context.Background(), Request{Tool: "slow", Timeout: 50 * time.Millisecond})

	assert.False(t, result.Success)
	assert.Equal(t, StateTimedOut, result.State)
	assert.Contains(t, result.Error, "timed out")
}

func TestExecuteCancelledIsDistinct(t *testing.T) {
	d := newTestDispatcher()

	started := make(chan struct{})
	def := ToolDefinition{
		Name:        "block",
		Description: "waits for its context",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, d.RegisterTool(def))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result := d.Execute(ctx, Request{Tool: "block", Timeout: 5 * time.Second})

	assert.Equal(t, StateCancelled, result.State)
	assert.NotEqual(t, StateTimedOut, result.State)
	assert.NotEqual(t, StateFaulted, result.State)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteHandlerErrorFaulted(t *testing.T) {
	d := newTestDispatcher()

	def := ToolDefinition{
		Name:        "broken",
		Description: "always fails",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("disk on fire")
		},
	}
	require.NoError(t, d.RegisterTool(def))

	result := d.Execute(context.Background(), Request{Tool: "broken"})

	assert.Equal(t, StateFaulted, result.State)
	assert.Equal(t, "disk on fire", result.Error)
	assert.Nil(t, result.Output)
}

func TestExecuteHandlerPanicFaulted(t *testing.T) {
	d := newTestDispatcher()

	def := ToolDefinition{
		Name:        "panicky",
		Description: "panics",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			panic("kaboom")
		},
	}
	require.NoError(t, d.RegisterTool(def))

	result := d.Execute(context.Background(), Request{Tool: "panicky"})

	assert.Equal(t, StateFaulted, result.State)
	assert.Contains(t, result.Error, "panicked")
	assert.Contains(t, result.Error, "kaboom")
}

func TestExtensionToolCollisionGetsPrefixed(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	name, err := d.RegisterExtensionTool("demo", echoTool())
	require.NoError(t, err)
	assert.Equal(t, "demo_echo", name)
	assert.ElementsMatch(t, []string{"echo", "demo_echo"}, d.ListTools())
}

func TestUnregisterExtensionRemovesOnlyItsTools(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	def := echoTool()
	def.Name = "probe"
	_, err := d.RegisterExtensionTool("demo", def)
	require.NoError(t, err)

	def2 := echoTool()
	def2.Name = "other"
	_, err = d.RegisterExtensionTool("second", def2)
	require.NoError(t, err)

	removed := d.UnregisterExtension("demo")
	assert.Equal(t, []string{"probe"}, removed)
	assert.ElementsMatch(t, []string{"echo", "other"}, d.ListTools())
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	finished []Result
}

func (r *recordingObserver) CallTransition(callID, tool string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingObserver) CallFinished(ctx context.Context, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

func TestObserverSeesLifecycle(t *testing.T) {
	d := newTestDispatcher()
	obs := &recordingObserver{}
	d.SetObserver(obs)
	require.NoError(t, d.RegisterTool(echoTool()))

	result := d.Execute(context.Background(), Request{
		Tool:      "echo",
		Arguments: map[string]interface{}{"message": "hi"},
	})
	require.True(t, result.Success)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []State{StateReceived, StateValidating, StateExecuting, StateCompleted}, obs.states)
	require.Len(t, obs.finished, 1)
	assert.Equal(t, result.CallID, obs.finished[0].CallID)
	assert.Equal(t, StateCompleted, obs.finished[0].State)
}

func TestConcurrentExecutions(t *testing.T) {
	d := newTestDispatcher()
	require.NoError(t, d.RegisterTool(echoTool()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := fmt.Sprintf("m%d", n)
			result := d.Execute(context.Background(), Request{
				Tool:      "echo",
				Arguments: map[string]interface{}{"message": msg},
			})
			assert.True(t, result.Success)
			assert.Equal(t, msg, result.Output)
		}(i)
	}
	wg.Wait()
}
