package executor

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/logger"
)

// Request is what the transport extracted from an incoming call.
type Request struct {
	// Params holds path parameters by name.
	Params map[string]string
	Query  url.Values
	// Body is the decoded JSON body, or nil.
	Body any
	// AuthUserID is the id of the authenticated user, if any.
	AuthUserID *int64
}

// Response is written back by the transport.
type Response struct {
	Status  int
	Body    any
	Headers map[string]string
}

// Paging defaults for pageable list endpoints. Larger page sizes are capped
// at MaxPageSize.
const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
	pageParam       = "page"
	pageSizeParam   = "pageSize"
)

type Options struct {
	Logger logger.Logger
	// Now is the clock used by the now() function.
	Now func() time.Time
	// PageSize is the page size used when a request does not specify one.
	PageSize int64
}

type Option func(*Options)

func WithLogger(l logger.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithClock(now func() time.Time) Option { return func(o *Options) { o.Now = now } }
func WithPageSize(n int64) Option           { return func(o *Options) { o.PageSize = n } }

// Executor serves the endpoints of a Definition against a Store.
type Executor struct {
	def      *ir.Definition
	store    Store
	hooks    HookInvoker
	opt      Options
	handlers []*EndpointHandler
}

// New prepares one handler per endpoint of def. hooks may be nil when the
// definition invokes no hook.
func New(def *ir.Definition, store Store, hooks HookInvoker, opts ...Option) *Executor {
	o := Options{Logger: logger.NopLogger, Now: time.Now, PageSize: DefaultPageSize}
	for _, f := range opts {
		f(&o)
	}
	e := &Executor{def: def, store: store, hooks: hooks, opt: o}
	for _, api := range def.Apis {
		for _, ep := range api.Entrypoints {
			e.collect(ep, "")
		}
	}
	return e
}

func (e *Executor) collect(ep *ir.EntrypointDef, prefix string) {
	base := prefix + "/" + strings.ToLower(ep.Target.Name)
	one := base
	if ep.Target.Identify != nil {
		one = base + "/:" + ep.Target.Identify.ParamName
	}
	for _, d := range ep.Endpoints {
		h := &EndpointHandler{exec: e, def: d, contextPaths: ir.ContextPaths(d)}
		switch d := d.(type) {
		case *ir.GetEndpointDef:
			h.Method, h.Route = http.MethodGet, one
		case *ir.ListEndpointDef:
			h.Method, h.Route = http.MethodGet, base
		case *ir.CreateEndpointDef:
			h.Method, h.Route = http.MethodPost, base
		case *ir.UpdateEndpointDef:
			h.Method, h.Route = http.MethodPatch, one
		case *ir.DeleteEndpointDef:
			h.Method, h.Route = http.MethodDelete, one
		case *ir.CustomOneEndpointDef:
			h.Method, h.Route = d.Method, one+"/"+d.Path
		case *ir.CustomManyEndpointDef:
			h.Method, h.Route = d.Method, base+"/"+d.Path
		default:
			panic(fmt.Sprintf("unreachable: unknown endpoint %T", d))
		}
		e.handlers = append(e.handlers, h)
	}
	for _, child := range ep.Entrypoints {
		e.collect(child, one)
	}
}

// Handlers returns the endpoint handlers in declaration order.
func (e *Executor) Handlers() []*EndpointHandler { return e.handlers }

// Definition returns the definition the executor serves.
func (e *Executor) Definition() *ir.Definition { return e.def }

// Store returns the store requests run against.
func (e *Executor) Store() Store { return e.store }

// Hooks returns the hook invoker, which may be nil.
func (e *Executor) Hooks() HookInvoker { return e.hooks }

// Now reads the executor clock.
func (e *Executor) Now() time.Time { return e.opt.Now() }

// Handler finds the handler serving method and route.
func (e *Executor) Handler(method, route string) *EndpointHandler {
	for _, h := range e.handlers {
		if h.Method == method && h.Route == route {
			return h
		}
	}
	return nil
}

// EndpointHandler serves one endpoint. Route uses ":name" path parameters.
type EndpointHandler struct {
	Method string
	Route  string

	exec *Executor
	def  ir.EndpointDef

	// contextPaths are the context paths read by authorize, filter and actions.
	contextPaths map[string][][]string
}

func (h *EndpointHandler) Endpoint() ir.EndpointDef { return h.def }

// Handle runs the endpoint in one transaction. It never returns nil; failures
// are answered with an error response after the transaction is rolled back.
func (h *EndpointHandler) Handle(ctx context.Context, req *Request) *Response {
	start := time.Now()
	kind := string(h.def.Kind())
	eventbus.Publish(ctx, events.EndpointStart{Kind: kind, Method: h.Method, Route: h.Route})
	resp, err := h.handle(ctx, req)
	eventbus.Publish(ctx, events.EndpointFinish{
		Kind: kind, Method: h.Method, Route: h.Route,
		Status: resp.Status, Err: err, Duration: time.Since(start),
	})
	return resp
}

func (h *EndpointHandler) handle(ctx context.Context, req *Request) (resp *Response, err error) {
	e := h.exec
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return h.fail(fmt.Errorf("begin: %w", err))
	}
	finished := false
	defer func() {
		if p := recover(); p != nil {
			resp, err = h.fail(fmt.Errorf("panic: %v\n%s", p, debug.Stack()))
		}
		if finished {
			return
		}
		if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil {
			e.opt.Logger.Warnf("%s %s: rollback: %v", h.Method, h.Route, rerr)
		}
	}()

	r := newRun(ctx, e.def, tx, e.hooks, e.opt.Now)
	r.pageSize = e.opt.PageSize
	resp, err = h.serve(r, req)
	if err != nil {
		return h.fail(err)
	}
	finished = true
	if err := tx.Commit(ctx); err != nil {
		return h.fail(fmt.Errorf("commit: %w", err))
	}
	return resp, nil
}

// fail maps err to a response. Unexpected errors are logged in full and
// returned for instrumentation.
func (h *EndpointHandler) fail(err error) (*Response, error) {
	resp, unexpected := ErrorResponse(err)
	if !unexpected {
		if constraintMessage(err) != "" {
			h.exec.opt.Logger.Infof("%s %s: %v", h.Method, h.Route, err)
		}
		return resp, nil
	}
	h.exec.opt.Logger.Errorf("%s %s: %v", h.Method, h.Route, err)
	return resp, err
}

func (h *EndpointHandler) serve(r *run, req *Request) (*Response, error) {
	base := h.def.Base()
	if auth := r.def.Authenticator; auth != nil {
		var user *record
		if req.AuthUserID != nil {
			var err error
			user, err = r.loadByID(r.def.Model(auth.UserModel), *req.AuthUserID)
			if err != nil {
				return nil, err
			}
		}
		r.bind(ir.AuthAlias, user)
	}

	var parent *record
	for _, t := range base.Parents {
		rec, err := r.resolveTarget(t, parent, req)
		if err != nil {
			return nil, err
		}
		r.bind(t.Alias, rec)
		parent = rec
	}
	var target *record
	switch h.def.Kind() {
	case ir.KindGet, ir.KindUpdate, ir.KindDelete, ir.KindCustomOne:
		var err error
		target, err = r.resolveTarget(base.Target, parent, req)
		if err != nil {
			return nil, err
		}
		r.bind(base.Target.Alias, target)
	}
	if err := r.prefetch(h.contextPaths); err != nil {
		return nil, err
	}

	if base.Authorize != nil {
		ok, err := r.eval(base.Authorize, nil)
		if err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
		if !truthy(ok) {
			if r.aliases[ir.AuthAlias] == nil && base.AuthorizeDependsOnAuth {
				return nil, NewError(CodeUnauthenticated, "authentication required")
			}
			return nil, NewError(CodeForbidden, "forbidden")
		}
	}

	switch d := h.def.(type) {
	case *ir.GetEndpointDef:
		return r.respond(base.Response, target)
	case *ir.ListEndpointDef:
		return r.list(d, parent, req)
	}

	markers, err := r.lookupInputs(base.Actions, req.Body)
	if err != nil {
		return nil, err
	}
	body, tree, err := r.validateBody(base.Fieldset, req.Body, markers)
	if err != nil {
		return nil, err
	}
	if tree != nil {
		return nil, &Error{Code: CodeValidation, Message: "validation failed", Data: tree}
	}
	r.body = body
	out, err := r.execActions(base.Actions)
	if err != nil {
		return nil, err
	}

	switch h.def.Kind() {
	case ir.KindCreate, ir.KindUpdate:
		rec := out.primary
		if rec == nil {
			rec = target
		}
		if rec == nil {
			return nil, fmt.Errorf("%s endpoint produced no record", h.def.Kind())
		}
		fresh, err := r.loadByID(rec.model, rec.id())
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, errNotFound(rec.model.Name)
		}
		return r.respond(base.Response, fresh)
	case ir.KindDelete:
		return &Response{Status: http.StatusNoContent}, nil
	}
	if out.responds {
		return hookReply(out.reply), nil
	}
	return &Response{Status: http.StatusNoContent}, nil
}

func (r *run) respond(items []ir.SelectItem, rec *record) (*Response, error) {
	obj, err := r.project(items, rec)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Body: obj}, nil
}

// resolveTarget finds the single record t names below parent.
func (r *run) resolveTarget(t *ir.TargetDef, parent *record, req *Request) (*record, error) {
	var recs []*record
	var err error
	var v any
	if t.Identify != nil {
		raw, ok := req.Params[t.Identify.ParamName]
		if !ok {
			return nil, errNotFound(t.Name)
		}
		if v, ok = parseParam(raw, t.Identify.Type); !ok {
			return nil, errNotFound(t.Name)
		}
	}
	if t.Kind == ir.TargetModel {
		recs, err = r.records(r.def.Model(t.RetType), &Where{Field: t.Identify.Field, Values: []any{v}})
		if err != nil {
			return nil, err
		}
		return findOne(recs, t.Name)
	}
	recs, _, err = r.walk([]*record{parent}, []string{t.Name})
	if err != nil {
		return nil, err
	}
	if t.Identify != nil {
		kept := recs[:0:0]
		for _, rec := range recs {
			if equalValues(rec.row[t.Identify.Field], v) {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	return findOne(recs, t.Name)
}

// list answers a list endpoint. Pageable lists wrap the page in an envelope
// counting every record that passes the filter.
func (r *run) list(d *ir.ListEndpointDef, parent *record, req *Request) (*Response, error) {
	recs, err := r.pick(selection{from: d.Target.NamePath, filter: d.Filter, orderBy: d.OrderBy}, parent)
	if err != nil {
		return nil, err
	}
	if !d.Pageable {
		data, err := r.projectAll(d.Response, recs)
		if err != nil {
			return nil, err
		}
		return &Response{Status: http.StatusOK, Body: data}, nil
	}

	page, pageSize, err := paging(req.Query, r.pageSize)
	if err != nil {
		return nil, err
	}
	total := int64(len(recs))
	offset := int64(math.MaxInt64)
	if page-1 <= math.MaxInt64/pageSize {
		offset = (page - 1) * pageSize
	}
	data, err := r.projectAll(d.Response, window(recs, &offset, &pageSize))
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Body: map[string]any{
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": (total + pageSize - 1) / pageSize,
		"totalCount": total,
		"data":       data,
	}}, nil
}

func (r *run) projectAll(items []ir.SelectItem, recs []*record) ([]any, error) {
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		obj, err := r.project(items, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func paging(q url.Values, defaultSize int64) (int64, int64, error) {
	page, size := int64(1), defaultSize
	errs := make(map[string]any)
	if s := q.Get(pageParam); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 1 {
			errs[pageParam] = []string{CodeType}
		}
		page = n
	}
	if s := q.Get(pageSizeParam); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 1 {
			errs[pageSizeParam] = []string{CodeType}
		}
		size = n
	}
	if len(errs) > 0 {
		return 0, 0, &Error{Code: CodeValidation, Message: "invalid paging parameters", Data: errs}
	}
	if size < 1 {
		size = DefaultPageSize
	}
	return page, min(size, MaxPageSize), nil
}

// hookReply builds the response of a responding hook. A result shaped as
// {status, body, headers} controls the response; any other result is the body.
func hookReply(v any) *Response {
	m, ok := v.(map[string]any)
	if !ok || (m["status"] == nil && m["body"] == nil && m["headers"] == nil) {
		return &Response{Status: http.StatusOK, Body: v}
	}
	resp := &Response{Status: http.StatusOK, Body: m["body"]}
	if n, ok := asInt64(m["status"]); ok && n > 0 {
		resp.Status = int(n)
	}
	if hs, ok := m["headers"].(map[string]any); ok {
		resp.Headers = make(map[string]string, len(hs))
		for k, v := range hs {
			resp.Headers[k] = stringify(v)
		}
	}
	return resp
}
