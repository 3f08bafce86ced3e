// Copyright 2025 Certen Protocol
//
// Job router - maps job identifiers to handler services, runs "always" and
// "fallback" routes, and supports per-route and global middleware layering.

package router

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/certen/blueprint-runtime/pkg/extract"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/sirupsen/logrus"
)

// routeID is the stable internal identifier assigned at registration.
type routeID uint32

type route struct {
	id  routeID
	svc job.Service
	// handler is non-nil when the route was built from a plain function;
	// it receives the router context bound via WithContext.
	handler *extract.HandlerService
}

// Router composes jobs and services. Build it once, bind a context with
// WithContext, then convert it into a dispatchable service with AsService.
type Router struct {
	byID     map[job.ID]*route
	order    []job.ID // registration order of byID routes, for deterministic walks
	always   []*route
	fallback *route
	nextID   atomic.Uint32
	log      *logrus.Entry
}

// New creates an empty router. Unless routes are added it ignores all calls.
func New() *Router {
	return &Router{
		byID: make(map[job.ID]*route),
		log:  logging.Component("router"),
	}
}

func (r *Router) newRoute(svc job.Service, h *extract.HandlerService) *route {
	return &route{id: routeID(r.nextID.Add(1)), svc: svc, handler: h}
}

// Route registers a handler function for the given job ID. Any previous
// route for the ID is replaced. Invalid handlers panic at registration.
func (r *Router) Route(id job.ID, handler any) *Router {
	h := extract.MustHandler(handler)
	r.setRoute(id, r.newRoute(h, h))
	return r
}

// RouteService registers a pre-built service for the given job ID.
// Registering a Router here is invalid and panics.
func (r *Router) RouteService(id job.ID, svc job.Service) *Router {
	if _, ok := svc.(*Service); ok {
		panic("router: RouteService cannot be used with a Router service; merge the routers instead")
	}
	r.setRoute(id, r.newRoute(svc, nil))
	return r
}

func (r *Router) setRoute(id job.ID, rt *route) {
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = rt
}

// Always appends a route invoked on every call regardless of job ID.
// Registration order is preserved.
func (r *Router) Always(handler any) *Router {
	h := extract.MustHandler(handler)
	r.always = append(r.always, r.newRoute(h, h))
	return r
}

// Fallback sets the route invoked when no ID route matches and no always
// routes exist. A previous fallback is replaced.
func (r *Router) Fallback(handler any) *Router {
	h := extract.MustHandler(handler)
	r.fallback = r.newRoute(h, h)
	return r
}

// Layer wraps every currently registered route, the always routes, and the
// fallback in the given layer. Routes added afterwards are not wrapped.
// Dispatch ordering of always routes is preserved.
func (r *Router) Layer(l job.Layer) *Router {
	for _, id := range r.order {
		rt := r.byID[id]
		rt.svc = l.Wrap(rt.svc)
	}
	for _, rt := range r.always {
		rt.svc = l.Wrap(rt.svc)
	}
	if r.fallback != nil {
		r.fallback.svc = l.Wrap(r.fallback.svc)
	}
	return r
}

// WithContext binds the context value handed to extractors. It applies to
// every handler-backed route registered so far, including layered ones.
func (r *Router) WithContext(ctxVal any) *Router {
	for _, id := range r.order {
		if h := r.byID[id].handler; h != nil {
			h.SetContext(ctxVal)
		}
	}
	for _, rt := range r.always {
		if rt.handler != nil {
			rt.handler.SetContext(ctxVal)
		}
	}
	if r.fallback != nil && r.fallback.handler != nil {
		r.fallback.handler.SetContext(ctxVal)
	}
	return r
}

// HasRoutes reports whether at least one route is registered.
func (r *Router) HasRoutes() bool {
	return len(r.byID) > 0 || len(r.always) > 0 || r.fallback != nil
}

// AsService finalizes the router into a dispatchable service. The router
// must not be mutated afterwards; reads are lock-free.
func (r *Router) AsService() *Service {
	return &Service{router: r}
}

// Service is a finalized router exposed as the pipeline's dispatch target.
type Service struct {
	router *Router
}

type dispatched struct {
	res *job.Result
	err error
}

// Dispatch routes a call. Matching always routes and the ID route run
// concurrently; the fallback runs only when nothing else matched. Results
// are returned in completion order. A nil slice means no route ran; a
// non-nil empty slice means routes ran but produced nothing.
//
// A service-layer error aborts the dispatch. Handler panics are recovered
// and converted into Err results tagged handler-panicked.
func (s *Service) Dispatch(ctx context.Context, call *job.Call) ([]*job.Result, error) {
	r := s.router

	var targets []*route
	targets = append(targets, r.always...)
	if rt, ok := r.byID[call.JobID()]; ok {
		targets = append(targets, rt)
	}
	if len(targets) == 0 {
		if r.fallback == nil {
			r.log.WithField("job_id", call.JobID()).Debug("no route matched job call")
			return nil, nil
		}
		targets = append(targets, r.fallback)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan dispatched, len(targets))
	for _, rt := range targets {
		go invoke(ctx, rt.svc, call.Clone(), ch)
	}

	results := make([]*job.Result, 0, len(targets))
	for range targets {
		d := <-ch
		if d.err != nil {
			cancel()
			return nil, d.err
		}
		if d.res == nil {
			continue
		}
		d.res.StampID(call.JobID())
		results = append(results, d.res)
	}
	return results, nil
}

func invoke(ctx context.Context, svc job.Service, call *job.Call, ch chan<- dispatched) {
	defer func() {
		if rec := recover(); rec != nil {
			ch <- dispatched{res: job.Errf(job.TagHandlerPanicked, "%v", rec)}
		}
	}()
	res, err := svc.CallJob(ctx, call)
	ch <- dispatched{res: res, err: err}
}

// CallJob lets a finalized router be used as a single-result service, e.g.
// when nesting it behind another route via a shim. It returns the first
// result of the dispatch.
func (s *Service) CallJob(ctx context.Context, call *job.Call) (*job.Result, error) {
	results, err := s.Dispatch(ctx, call)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

var _ job.Service = (*Service)(nil)

// String implements fmt.Stringer for logging.
func (r *Router) String() string {
	return fmt.Sprintf("Router{routes: %d, always: %d, fallback: %v}",
		len(r.byID), len(r.always), r.fallback != nil)
}
