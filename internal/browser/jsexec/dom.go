// internal/browser/jsexec/dom.go
package jsexec

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// installGlobals wires window, document, location and console into the VM.
// It is called once from NewRuntime.
func (r *Runtime) installGlobals() {
	vm := r.vm
	global := vm.GlobalObject()
	_ = vm.Set("window", global)
	_ = vm.Set("self", global)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "debug", "warn", "error"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			r.logger.Debug("console."+level, zap.String("message", strings.Join(parts, " ")))
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", console)

	location := vm.NewObject()
	_ = location.DefineAccessorProperty("href",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(r.page.URL()) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := r.page.Navigate(call.Argument(0).String()); err != nil {
				panic(vm.NewGoError(err))
			}
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = location.Set("assign", func(target string) error { return r.page.Navigate(target) })
	_ = location.Set("toString", func() string { return r.page.URL() })
	_ = vm.Set("location", location)

	document := vm.NewObject()
	_ = document.DefineAccessorProperty("title",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(r.page.Title()) }),
		nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	documentElement := vm.NewObject()
	_ = documentElement.DefineAccessorProperty("outerHTML",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(r.page.HTML()) }),
		nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = document.Set("documentElement", documentElement)
	_ = document.Set("location", location)
	_ = document.Set("querySelector", func(selector string) goja.Value {
		sel := r.page.find(selector).First()
		if sel.Length() == 0 {
			return goja.Null()
		}
		return r.element(sel)
	})
	_ = document.Set("querySelectorAll", func(selector string) *goja.Object {
		return r.elementList(r.page.find(selector))
	})
	_ = vm.Set("document", document)
}

// selection builds the object returned by $(selector).
func (r *Runtime) selection(sel *goquery.Selection) *goja.Object {
	vm := r.vm
	obj := vm.NewObject()
	_ = obj.Set("length", sel.Length())
	sel.Each(func(i int, s *goquery.Selection) {
		_ = obj.Set(strconv.Itoa(i), r.element(s))
	})
	_ = obj.Set("text", func() string { return strings.TrimSpace(sel.Text()) })
	_ = obj.Set("html", func() string {
		h, _ := sel.First().Html()
		return h
	})
	_ = obj.Set("attr", func(name string) goja.Value {
		if v, ok := sel.Attr(name); ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	_ = obj.Set("val", func() goja.Value {
		if v, ok := sel.Attr("value"); ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	_ = obj.Set("first", func() *goja.Object { return r.selection(sel.First()) })
	_ = obj.Set("eq", func(i int) *goja.Object { return r.selection(sel.Eq(i)) })
	_ = obj.Set("find", func(selector string) *goja.Object { return r.selection(sel.Find(selector)) })
	_ = obj.Set("get", func(i int) goja.Value {
		if i < 0 || i >= sel.Length() {
			return goja.Undefined()
		}
		return r.element(sel.Eq(i))
	})
	_ = obj.Set("click", func() (*goja.Object, error) {
		return obj, r.page.click(sel)
	})
	_ = obj.Set("trigger", func(event string) (*goja.Object, error) {
		if event != "click" {
			return obj, nil
		}
		return obj, r.page.click(sel)
	})
	return obj
}

// element builds a native-element stand-in for a single node.
func (r *Runtime) element(s *goquery.Selection) *goja.Object {
	vm := r.vm
	el := vm.NewObject()
	_ = el.Set("tagName", strings.ToUpper(goquery.NodeName(s)))
	_ = el.Set("textContent", s.Text())
	_ = el.Set("innerText", strings.TrimSpace(s.Text()))
	if id, ok := s.Attr("id"); ok {
		_ = el.Set("id", id)
	}
	if href, ok := s.Attr("href"); ok {
		_ = el.Set("href", href)
	}
	_ = el.Set("getAttribute", func(name string) goja.Value {
		if v, ok := s.Attr(name); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = el.Set("click", func() error { return r.page.click(s) })
	return el
}

func (r *Runtime) elementList(sel *goquery.Selection) *goja.Object {
	items := make([]interface{}, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		items = append(items, r.element(s))
	})
	return r.vm.NewArray(items...)
}
