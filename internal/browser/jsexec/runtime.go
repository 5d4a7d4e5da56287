// internal/browser/jsexec/runtime.go
package jsexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// DefaultTimeout is the fallback execution timeout if the context has no deadline.
const DefaultTimeout = 30 * time.Second

// Runtime is an embedded page realm: a goja VM exposing window, document,
// location, console and, while the helper is present, a small jQuery-style
// $ over the Page's document.
type Runtime struct {
	vm        *goja.Runtime
	page      *Page
	logger    *zap.Logger
	execMutex sync.Mutex

	stringify goja.Callable
}

// NewRuntime creates a runtime bound to page with the DOM helper installed.
func NewRuntime(logger *zap.Logger, page *Page) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		vm:     goja.New(),
		page:   page,
		logger: logger.Named("jsexec"),
	}
	r.installGlobals()
	r.SetHelperPresent(true)

	stringify, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	if !ok {
		panic("jsexec: JSON.stringify is not callable")
	}
	r.stringify = stringify
	return r
}

// Page returns the document model behind this realm.
func (r *Runtime) Page() *Page { return r.page }

// SetHelperPresent installs or removes the $ / jQuery helper.
func (r *Runtime) SetHelperPresent(present bool) {
	r.execMutex.Lock()
	defer r.execMutex.Unlock()

	if !present {
		_ = r.vm.GlobalObject().Delete("$")
		_ = r.vm.GlobalObject().Delete("jQuery")
		return
	}
	dollar := r.vm.ToValue(func(selector string) *goja.Object {
		return r.selection(r.page.find(selector))
	})
	_ = r.vm.Set("$", dollar)
	_ = r.vm.Set("jQuery", dollar)
}

// Evaluate runs code and returns its JSON-serialized value when capture is
// set, or nil otherwise. It implements the page side of a bridge request:
// with capture the code is wrapped as an arrow function body returning its
// value, falling back to plain statement evaluation when the wrapped form
// does not compile.
func (r *Runtime) Evaluate(ctx context.Context, code string, capture bool) (json.RawMessage, error) {
	r.execMutex.Lock()
	defer r.execMutex.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	// Interrupt the VM when ctx ends. The watcher must be gone before the
	// interrupt is cleared so it cannot leak into the next run.
	done := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		watcher.Wait()
		r.vm.ClearInterrupt()
	}()

	result, err := r.run(code, capture)
	if err != nil {
		return nil, r.translateError(ctx, err)
	}

	if promise, ok := result.Export().(*goja.Promise); ok {
		result, err = r.settled(promise)
		if err != nil {
			return nil, err
		}
	}
	if !capture {
		return nil, nil
	}
	return r.toJSON(result)
}

func (r *Runtime) run(code string, capture bool) (goja.Value, error) {
	if !capture {
		return r.vm.RunString(code)
	}
	wrapped := "(() => { return " + code + "\n})()"
	prog, err := goja.Compile("eval", wrapped, false)
	if err != nil {
		// Multi-statement code: evaluate as-is and take its completion value.
		return r.vm.RunString(code)
	}
	return r.vm.RunProgram(prog)
}

// settled unwraps a promise. The job queue is drained at the end of every
// run, so anything not settled by now never will be in this realm.
func (r *Runtime) settled(promise *goja.Promise) (goja.Value, error) {
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, errors.New(r.errorMessage(promise.Result()))
	default:
		return nil, errors.New("promise did not settle")
	}
}

func (r *Runtime) toJSON(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null"), nil
	}
	out, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, fmt.Errorf("result is not serializable: %s", r.exceptionMessage(err))
	}
	if goja.IsUndefined(out) {
		// Functions and symbols have no JSON form.
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func (r *Runtime) translateError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("javascript execution interrupted by context: %w", ctx.Err())
	}
	return errors.New(r.exceptionMessage(err))
}

// exceptionMessage extracts error.message from a thrown value, matching what
// a page-side catch block would report.
func (r *Runtime) exceptionMessage(err error) string {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return r.errorMessage(exc.Value())
	}
	return err.Error()
}

func (r *Runtime) errorMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "Error"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && msg.String() != "" {
			return msg.String()
		}
	}
	if s := v.String(); s != "" {
		return s
	}
	return "Error"
}
