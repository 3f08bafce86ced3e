// Copyright 2025 Certen Protocol
//
// Handler adaptation - turns plain functions into job services.
//
// A handler is any function whose parameters are extractors, optionally
// preceded by a context.Context, returning nothing, a convertible value,
// an error, or (value, error). The argument tuple is resolved positionally:
// all PartsExtractors in declaration order, then at most one trailing
// CallExtractor. Extraction failures short-circuit the handler and surface
// as Err results.

package extract

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/certen/blueprint-runtime/pkg/job"
)

// MaxHandlerArity is the maximum number of extractor arguments a handler
// may declare.
const MaxHandlerArity = 16

var (
	ctxType        = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType        = reflect.TypeOf((*error)(nil)).Elem()
	partsExtType   = reflect.TypeOf((*PartsExtractor)(nil)).Elem()
	callExtType    = reflect.TypeOf((*CallExtractor)(nil)).Elem()
	intoResultType = reflect.TypeOf((*job.IntoJobResult)(nil)).Elem()
	resultPtrType  = reflect.TypeOf((*job.Result)(nil))
	bytesType      = reflect.TypeOf([]byte(nil))
	stringType     = reflect.TypeOf("")
)

type paramKind int

const (
	paramParts paramKind = iota
	paramCall
)

type paramPlan struct {
	typ  reflect.Type
	kind paramKind
}

// HandlerService is a job.Service backed by an adapted handler function.
// The router context value is bound late via SetContext.
type HandlerService struct {
	fv       reflect.Value
	wantsCtx bool
	params   []paramPlan
	numOut   int
	ctxVal   atomic.Value // holds ctxBox
}

type ctxBox struct{ v any }

// NewHandler adapts fn. It returns an error when fn is not a valid handler;
// the router turns that into a loud registration failure.
func NewHandler(fn any) (*HandlerService, error) {
	fv := reflect.ValueOf(fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("handler must not be variadic")
	}

	h := &HandlerService{fv: fv, numOut: ft.NumOut()}
	h.ctxVal.Store(ctxBox{})

	start := 0
	if ft.NumIn() > 0 && ft.In(0) == ctxType {
		h.wantsCtx = true
		start = 1
	}

	extractorArgs := ft.NumIn() - start
	if extractorArgs > MaxHandlerArity {
		return nil, fmt.Errorf("handler declares %d extractor arguments, max is %d", extractorArgs, MaxHandlerArity)
	}

	for i := start; i < ft.NumIn(); i++ {
		t := ft.In(i)
		pt := reflect.PointerTo(t)
		switch {
		case pt.Implements(partsExtType):
			h.params = append(h.params, paramPlan{typ: t, kind: paramParts})
		case pt.Implements(callExtType):
			if i != ft.NumIn()-1 {
				return nil, fmt.Errorf("consuming extractor %s must be the last handler argument", t)
			}
			h.params = append(h.params, paramPlan{typ: t, kind: paramCall})
		default:
			return nil, fmt.Errorf("handler argument %s is not an extractor", t)
		}
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) != errType && !convertibleReturn(ft.Out(0)) {
			return nil, fmt.Errorf("unsupported handler return type %s", ft.Out(0))
		}
	case 2:
		if !convertibleReturn(ft.Out(0)) || ft.Out(1) != errType {
			return nil, fmt.Errorf("handler with two return values must be (value, error)")
		}
	default:
		return nil, fmt.Errorf("handler returns %d values, max is 2", ft.NumOut())
	}

	return h, nil
}

// MustHandler is NewHandler, panicking on invalid handlers.
func MustHandler(fn any) *HandlerService {
	h, err := NewHandler(fn)
	if err != nil {
		panic(fmt.Sprintf("invalid handler: %v", err))
	}
	return h
}

func convertibleReturn(t reflect.Type) bool {
	switch {
	case t == resultPtrType, t == bytesType, t == stringType:
		return true
	case t.Implements(intoResultType):
		return true
	case t.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8:
		return true
	default:
		return false
	}
}

// SetContext binds the router context value passed to extractors.
func (h *HandlerService) SetContext(v any) {
	h.ctxVal.Store(ctxBox{v: v})
}

// CallJob implements job.Service.
func (h *HandlerService) CallJob(ctx context.Context, call *job.Call) (*job.Result, error) {
	ctxVal := h.ctxVal.Load().(ctxBox).v
	parts, body := call.IntoParts()

	args := make([]reflect.Value, 0, len(h.params)+1)
	if h.wantsCtx {
		args = append(args, reflect.ValueOf(ctx))
	}

	for _, p := range h.params {
		pv := reflect.New(p.typ)
		var err error
		switch p.kind {
		case paramParts:
			err = pv.Interface().(PartsExtractor).ExtractFromParts(parts, ctxVal)
		case paramCall:
			err = pv.Interface().(CallExtractor).ExtractFromCall(job.FromParts(parts, body), ctxVal)
		}
		if err != nil {
			return rejectionResult(err), nil
		}
		args = append(args, pv.Elem())
	}

	outs := h.fv.Call(args)
	return convertOutputs(outs)
}

func rejectionResult(err error) *job.Result {
	if into, ok := err.(job.IntoJobResult); ok {
		return into.IntoJobResult()
	}
	return job.Err(job.TagRejection, []byte(err.Error()))
}

func convertOutputs(outs []reflect.Value) (*job.Result, error) {
	switch len(outs) {
	case 0:
		return job.Ok(nil), nil
	case 1:
		if outs[0].Type() == errType {
			return errOutput(outs[0])
		}
		return valueOutput(outs[0]), nil
	default:
		if !outs[1].IsNil() {
			return errOutput(outs[1])
		}
		return valueOutput(outs[0]), nil
	}
}

func errOutput(ev reflect.Value) (*job.Result, error) {
	if ev.IsNil() {
		return job.Ok(nil), nil
	}
	err := ev.Interface().(error)
	if into, ok := err.(job.IntoJobResult); ok {
		return into.IntoJobResult(), nil
	}
	return job.Err(job.TagHandlerError, []byte(err.Error())), nil
}

func valueOutput(v reflect.Value) *job.Result {
	switch {
	case v.Type() == resultPtrType:
		if v.IsNil() {
			return nil // handler produced nothing
		}
		return v.Interface().(*job.Result)
	case v.Type().Implements(intoResultType):
		return v.Interface().(job.IntoJobResult).IntoJobResult()
	case v.Type() == bytesType:
		return job.Ok(v.Bytes())
	case v.Type() == stringType:
		return job.Ok([]byte(v.String()))
	default: // byte array, validated at registration
		out := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(out), v)
		return job.Ok(out)
	}
}
