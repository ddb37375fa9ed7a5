// Package server exposes an executor over HTTP using gin.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hanpama/modelgate/internal/auth"
	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/logger"
	"github.com/hanpama/modelgate/internal/reqid"
)

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Auth serves the /auth routes and resolves bearer tokens. Nil disables
	// authentication.
	Auth *auth.Service

	Logger logger.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithAuth(svc *auth.Service) Option  { return func(o *Options) { o.Auth = svc } }
func WithLogger(l logger.Logger) Option  { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// Handler is an http.Handler serving every endpoint of an executor.
type Handler struct {
	exec   *executor.Executor
	opt    Options
	engine *gin.Engine
}

const userIDKey = "modelgate.authUserID"

var (
	errBodyTooLarge       = executor.NewError(executor.CodeOther, "body too large")
	errInvalidJSON        = executor.NewError(executor.CodeOther, "invalid JSON")
	errUnsupportedContent = executor.NewError(executor.CodeOther, "unsupported Content-Type")
	errNotFound           = executor.NewError(executor.CodeResourceNotFound, "not found")
	errMissingToken       = executor.NewError(executor.CodeUnauthenticated, "missing bearer token")
)

// New builds the router for exec.
func New(exec *executor.Executor, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, Logger: logger.NopLogger}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{exec: exec, opt: op}

	r := gin.New()
	r.Use(gin.CustomRecoveryWithWriter(io.Discard, h.recovered))
	r.Use(h.instrument, h.cors, h.authenticate)
	r.NoRoute(func(c *gin.Context) { h.writeError(c, errNotFound) })

	if op.Auth != nil {
		g := r.Group("/auth")
		g.POST("/login", h.login)
		g.POST("/logout", h.logout)
		g.POST("/register", h.register)
	}
	for _, eh := range exec.Handlers() {
		r.Handle(eh.Method, eh.Route, h.endpoint(eh))
	}
	h.engine = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

// Routes lists the registered routes as "METHOD path".
func (h *Handler) Routes() []string {
	var out []string
	for _, ri := range h.engine.Routes() {
		out = append(out, ri.Method+" "+ri.Path)
	}
	return out
}

// instrument applies the default timeout, assigns the request id and
// publishes the HTTP events.
func (h *Handler) instrument(c *gin.Context) {
	ctx := c.Request.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	var rid string
	if v := c.GetHeader(reqid.Header); v != "" {
		ctx, rid = reqid.WithID(ctx, v), v
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	c.Request = c.Request.WithContext(ctx)
	c.Header(reqid.Header, rid)

	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Method: c.Request.Method, Path: c.Request.URL.Path})
	c.Next()
	eventbus.Publish(ctx, events.HTTPFinish{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		Route:    c.FullPath(),
		Status:   c.Writer.Status(),
		Duration: time.Since(start),
	})
}

func (h *Handler) recovered(c *gin.Context, v any) {
	h.opt.Logger.Errorf("%s %s: panic: %v", c.Request.Method, c.Request.URL.Path, v)
	h.writeError(c, executor.NewError(executor.CodeServerError, "internal server error"))
	c.Abort()
}

func (h *Handler) cors(c *gin.Context) {
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(c.Writer, c.Request, h.opt.CORS)
	}
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// authenticate resolves a bearer token to the authenticated user. Unknown
// and expired tokens leave the request anonymous.
func (h *Handler) authenticate(c *gin.Context) {
	if h.opt.Auth == nil {
		c.Next()
		return
	}
	token := bearerToken(c.Request)
	if token == "" {
		c.Next()
		return
	}
	id, err := h.opt.Auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	if id != nil {
		c.Set(userIDKey, *id)
	}
	c.Next()
}

func bearerToken(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func (h *Handler) endpoint(eh *executor.EndpointHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := h.decodeBody(c.Request)
		if err != nil {
			h.writeError(c, err)
			return
		}
		req := &executor.Request{
			Params: make(map[string]string, len(c.Params)),
			Query:  c.Request.URL.Query(),
			Body:   body,
		}
		for _, p := range c.Params {
			req.Params[p.Key] = p.Value
		}
		if id, ok := c.Get(userIDKey); ok {
			uid := id.(int64)
			req.AuthUserID = &uid
		}
		h.write(c, eh.Handle(c.Request.Context(), req))
	}
}

// decodeBody reads a JSON body keeping numbers as json.Number. An empty body
// decodes to nil.
func (h *Handler) decodeBody(r *http.Request) (any, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errInvalidJSON
	}
	if h.opt.MaxBodyBytes > 0 && int64(len(data)) > h.opt.MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, errUnsupportedContent
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errInvalidJSON
	}
	if dec.More() {
		return nil, errInvalidJSON
	}
	return v, nil
}

func (h *Handler) write(c *gin.Context, resp *executor.Response) {
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	if resp.Body == nil || resp.Status == http.StatusNoContent {
		c.Status(resp.Status)
		c.Writer.WriteHeaderNow()
		return
	}
	if h.opt.Pretty {
		// gin's IndentedJSON indents by four spaces.
		b, err := json.MarshalIndent(resp.Body, "", "  ")
		if err == nil {
			c.Data(resp.Status, "application/json; charset=utf-8", append(b, '\n'))
			return
		}
		h.opt.Logger.Warnf("indent response: %v", err)
	}
	c.JSON(resp.Status, resp.Body)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, errBodyTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, errBodyTooLarge)
		return
	}
	resp, unexpected := executor.ErrorResponse(err)
	if unexpected {
		h.opt.Logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	h.write(c, resp)
}

func (h *Handler) login(c *gin.Context) {
	var cred auth.Credentials
	if !h.bind(c, &cred) {
		return
	}
	token, err := h.opt.Auth.Login(c.Request.Context(), cred)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.write(c, &executor.Response{Status: http.StatusOK, Body: gin.H{"token": token}})
}

func (h *Handler) logout(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		if !h.bind(c, &body) {
			return
		}
		token = body.Token
	}
	if token == "" {
		h.writeError(c, errMissingToken)
		return
	}
	if err := h.opt.Auth.Logout(c.Request.Context(), token); err != nil {
		h.writeError(c, err)
		return
	}
	h.write(c, &executor.Response{Status: http.StatusNoContent})
}

func (h *Handler) register(c *gin.Context) {
	body, err := h.decodeBody(c.Request)
	if err != nil {
		h.writeError(c, err)
		return
	}
	id, err := h.opt.Auth.Register(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.write(c, &executor.Response{Status: http.StatusCreated, Body: gin.H{"id": id}})
}

// bind decodes the body into v, answering the request on failure.
func (h *Handler) bind(c *gin.Context, v any) bool {
	body, err := h.decodeBody(c.Request)
	if err == nil && body != nil {
		var raw []byte
		raw, err = json.Marshal(body)
		if err == nil && json.Unmarshal(raw, v) != nil {
			err = errInvalidJSON
		}
	}
	if err != nil {
		h.writeError(c, err)
		return false
	}
	return true
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
