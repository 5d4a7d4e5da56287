// internal/browser/channel_test.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/bridge"
)

type worldCall struct {
	contextID runtime.ExecutionContextID
	script    string
}

type recordingRunner struct {
	mu    sync.Mutex
	calls []worldCall
	err   error
}

func (r *recordingRunner) run(_ context.Context, id runtime.ExecutionContextID, script string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, worldCall{contextID: id, script: script})
	return r.err
}

func (r *recordingRunner) recorded() []worldCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]worldCall{}, r.calls...)
}

func contextCreated(id int64, name, aux string) *runtime.EventExecutionContextCreated {
	return &runtime.EventExecutionContextCreated{
		Context: &runtime.ExecutionContextDescription{
			ID:      runtime.ExecutionContextID(id),
			Name:    name,
			AuxData: []byte(aux),
		},
	}
}

const (
	mainWorldAux  = `{"isDefault":true,"type":"default","frameId":"MAIN"}`
	shimWorldAux  = `{"isDefault":false,"type":"isolated","frameId":"MAIN"}`
	frameWorldAux = `{"isDefault":false,"type":"isolated","frameId":"IFRAME"}`
)

func bindingCalled(ctxID int64, payload string) *runtime.EventBindingCalled {
	return &runtime.EventBindingCalled{
		Name:               BindingName,
		Payload:            payload,
		ExecutionContextID: runtime.ExecutionContextID(ctxID),
	}
}

func receiveOne(t *testing.T, events <-chan schemas.Envelope) schemas.Envelope {
	t.Helper()
	select {
	case env := <-events:
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
		return schemas.Envelope{}
	}
}

func expectNothing(t *testing.T, events <-chan schemas.Envelope) {
	t.Helper()
	select {
	case env := <-events:
		t.Fatalf("unexpected envelope: %+v", env)
	case <-time.After(20 * time.Millisecond):
	}
}

func submitPayload(text string) string {
	return `{"v":1,"type":"submit","sender":"page","nonce":"n","text":"` + text + `"}`
}

func TestCDPChannel_PostStaysOffThePage(t *testing.T) {
	runner := &recordingRunner{}
	c := newCDPChannel("MAIN", runner.run, zaptest.NewLogger(t))
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	eval := schemas.BridgeMessage{
		Version: schemas.ProtocolVersion, Kind: schemas.KindEval, Sender: schemas.SenderContent,
		Nonce: "n", ID: 7, Code: "1+1", Capture: true,
	}
	require.NoError(t, c.Post(context.Background(), eval))

	env := receiveOne(t, events)
	assert.Equal(t, "MAIN", env.Origin)
	assert.Equal(t, uint64(7), env.Message.ID)
	assert.Empty(t, runner.recorded(), "eval requests never reach page script")
}

func TestCDPChannel_StatusRenderedInShimWorld(t *testing.T) {
	runner := &recordingRunner{}
	c := newCDPChannel("MAIN", runner.run, zaptest.NewLogger(t))
	status := schemas.BridgeMessage{
		Version: schemas.ProtocolVersion, Kind: schemas.KindStatus, Sender: schemas.SenderContent,
		Nonce: "n", Status: &schemas.LoopStatus{Request: "open settings", Loading: true},
	}

	// No shim world yet: nothing to render into, not an error.
	require.NoError(t, c.Post(context.Background(), status))
	assert.Empty(t, runner.recorded())

	c.handleEvent(contextCreated(1, "", mainWorldAux))
	c.handleEvent(contextCreated(3, WorldName, shimWorldAux))
	require.NoError(t, c.Post(context.Background(), status))

	calls := runner.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, runtime.ExecutionContextID(3), calls[0].contextID)
	assert.True(t, strings.HasPrefix(calls[0].script, "window.__domrelayStatus && window.__domrelayStatus({"))
	assert.Contains(t, calls[0].script, `"type":"status"`)
	assert.Contains(t, calls[0].script, `"request":"open settings"`)

	runner.err = errors.New("target closed")
	assert.Error(t, c.Post(context.Background(), status))

	c.Close()
	assert.ErrorIs(t, c.Post(context.Background(), status), ErrChannelClosed)
}

func TestCDPChannel_AcceptsSubmitsOnlyFromShimWorld(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := newCDPChannel("MAIN", (&recordingRunner{}).run, zap.New(core))
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.handleEvent(contextCreated(1, "", mainWorldAux))
	c.handleEvent(contextCreated(2, "chromedp", shimWorldAux))
	c.handleEvent(contextCreated(3, WorldName, shimWorldAux))
	c.handleEvent(contextCreated(4, WorldName, frameWorldAux))

	// Page script in the main world calling the binding is rejected.
	c.handleEvent(bindingCalled(1, submitPayload("forged")))
	// So is any other isolated world.
	c.handleEvent(bindingCalled(2, submitPayload("forged")))
	expectNothing(t, events)
	assert.Equal(t, 2, logs.FilterMessage("Rejected binding call from outside the shim world.").Len())

	c.handleEvent(bindingCalled(3, submitPayload("open settings")))
	env := receiveOne(t, events)
	assert.Equal(t, "MAIN", env.Origin)
	assert.Equal(t, schemas.KindSubmit, env.Message.Kind)
	assert.Equal(t, "open settings", env.Message.Text)

	// The shim in a child frame is tagged with that frame.
	c.handleEvent(bindingCalled(4, submitPayload("from frame")))
	assert.Equal(t, "IFRAME", receiveOne(t, events).Origin)

	// The shim only ever submits; readiness and responses come from the agent side.
	c.handleEvent(bindingCalled(3, `{"v":1,"type":"ready","sender":"page","nonce":"n"}`))
	c.handleEvent(bindingCalled(3, `{"v":1,"type":"response","sender":"page","nonce":"n","id":1,"result":1}`))
	expectNothing(t, events)
}

func TestCDPChannel_ForgetsDestroyedWorlds(t *testing.T) {
	c := newCDPChannel("MAIN", (&recordingRunner{}).run, zaptest.NewLogger(t))
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.handleEvent(contextCreated(3, WorldName, shimWorldAux))
	c.handleEvent(&runtime.EventExecutionContextsCleared{})
	c.handleEvent(bindingCalled(3, submitPayload("stale")))

	c.handleEvent(contextCreated(5, WorldName, shimWorldAux))
	c.handleEvent(&runtime.EventExecutionContextDestroyed{ExecutionContextID: 5})
	c.handleEvent(bindingCalled(5, submitPayload("stale")))
	expectNothing(t, events)
}

func TestCDPChannel_DropsBadPayloads(t *testing.T) {
	c := newCDPChannel("MAIN", (&recordingRunner{}).run, zaptest.NewLogger(t))
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()
	c.handleEvent(contextCreated(3, WorldName, shimWorldAux))

	c.handleEvent(bindingCalled(3, `not json`))
	c.handleEvent(bindingCalled(3, `{"v":2,"type":"submit","sender":"page","text":"x"}`))
	other := bindingCalled(3, submitPayload("x"))
	other.Name = "someone_else"
	c.handleEvent(other)
	expectNothing(t, events)
}

func TestCDPChannel_MainFrameNavigation(t *testing.T) {
	c := newCDPChannel("MAIN", (&recordingRunner{}).run, zaptest.NewLogger(t))
	defer c.Close()
	var urls []string
	c.OnMainFrameNavigated(func(url string) { urls = append(urls, url) })

	c.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "CHILD", ParentID: "MAIN", URL: "https://ads.test/"}})
	c.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "MAIN", URL: "https://example.test/next"}})
	c.handleEvent(&page.EventFrameNavigated{})

	assert.Equal(t, []string{"https://example.test/next"}, urls)
}

// A bridge and a main-world listener on the channel settle requests, and a
// readiness announcement readies the bridge.
func TestCDPChannel_WithBridge(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c := newCDPChannel("MAIN", (&recordingRunner{}).run, logger)
	defer c.Close()

	b := bridge.New(c, bridge.Options{Origin: "MAIN", Nonce: "nonce-1", RequestTimeout: time.Second}, logger)
	defer b.Close()

	evaluator := evaluatorFunc(func(_ context.Context, code string, _ bool) (json.RawMessage, error) {
		if code == "document.title" {
			return json.RawMessage(`"Home"`), nil
		}
		return nil, errors.New("ReferenceError: nope is not defined")
	})
	l := bridge.NewListener(c, evaluator, bridge.ListenerOptions{Origin: "MAIN", Nonce: "nonce-1"}, logger)
	l.Start()
	defer l.Close()

	require.NoError(t, c.announceReady(context.Background(), "nonce-1"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.WaitReady(ctx))

	res, err := b.Send(context.Background(), "document.title", true)
	require.NoError(t, err)
	assert.JSONEq(t, `"Home"`, string(res.Value))

	res, err = b.Send(context.Background(), "nope()", false)
	require.NoError(t, err)
	assert.Equal(t, "ReferenceError: nope is not defined", res.Err)
}

type evaluatorFunc func(ctx context.Context, code string, capture bool) (json.RawMessage, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, code string, capture bool) (json.RawMessage, error) {
	return f(ctx, code, capture)
}

func TestExceptionText(t *testing.T) {
	assert.Equal(t, "TypeError: x is not a function", exceptionText(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "TypeError: x is not a function\n    at <anonymous>:1:1"},
	}))
	assert.Equal(t, "Uncaught", exceptionText(&runtime.ExceptionDetails{Text: "Uncaught"}))
	assert.Equal(t, "Error", exceptionText(&runtime.ExceptionDetails{}))
}

func TestHelperLoaderQuotesURL(t *testing.T) {
	script := helperLoader(`https://cdn.test/jq.js"};alert(1);//`)
	assert.Contains(t, script, `s.src="https://cdn.test/jq.js\"};alert(1);//"`)
}
