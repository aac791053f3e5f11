// Package lambda turns function entries of the service description into
// callable handlers and builds their invocation contexts.
package lambda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"offline-sns/internal/serverless"
)

var ErrNoInvoker = errors.New("no invoker configured")

// Handler runs one function invocation.
type Handler interface {
	Invoke(ctx context.Context, event any, lc *Context) error
}

// HandlerFunc adapts an in-process function to Handler.
type HandlerFunc func(ctx context.Context, event any, lc *Context) error

func (f HandlerFunc) Invoke(ctx context.Context, event any, lc *Context) error {
	return f(ctx, event, lc)
}

// Options are the global options shared by every handler the factory creates.
type Options struct {
	// ServiceDir is the directory of the service description.
	ServiceDir string
	// Location is the handler root, relative to ServiceDir.
	Location string
	// Funcs are in-process handlers keyed by the function's handler string or
	// its name.
	Funcs map[string]HandlerFunc
	// Client is used by url invokers. Defaults to a client without timeout.
	Client *http.Client
	// Output receives the stdout and stderr of command invokers.
	Output io.Writer
	Region string
}

// Factory creates handlers and contexts for function entries.
type Factory struct {
	opts Options
	now  func() time.Time
}

func NewFactory(opts Options) *Factory {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Location == "" {
		opts.Location = "."
	}
	return &Factory{opts: opts, now: time.Now}
}

// NewContext builds a fresh invocation context for fn.
func (f *Factory) NewContext(fn serverless.Function) *Context {
	timeout := fn.Timeout
	if timeout <= 0 {
		timeout = serverless.DefaultTimeout
	}
	memory := fn.MemorySize
	if memory <= 0 {
		memory = serverless.DefaultMemorySize
	}
	return &Context{
		AWSRequestID:       uuid.NewString(),
		FunctionName:       fn.Name,
		FunctionVersion:    "offline_functionVersion_for_" + fn.Name,
		InvokedFunctionArn: "offline_invokedFunctionArn_for_" + fn.Name,
		MemoryLimitInMB:    memory,
		LogGroupName:       "offline_logGroupName_for_" + fn.Name,
		LogStreamName:      "offline_logStreamName_for_" + fn.Name,
		Deadline:           f.now().Add(time.Duration(timeout) * time.Second),
	}
}

// CreateHandler resolves fn to a handler: an in-process func registered under
// its handler string or name first, then its invoke url, then its invoke
// command.
func (f *Factory) CreateHandler(fn serverless.Function) (Handler, error) {
	if h, ok := f.opts.Funcs[fn.Handler]; ok && fn.Handler != "" {
		return h, nil
	}
	if h, ok := f.opts.Funcs[fn.Name]; ok {
		return h, nil
	}
	if fn.Invoke.URL != "" {
		return newHTTPHandler(f.opts.Client, fn.Invoke.URL)
	}
	if len(fn.Invoke.Command) > 0 {
		return newCommandHandler(fn, f.workDir(fn), f.opts.Region, f.opts.Output), nil
	}
	return nil, fmt.Errorf("%w for handler %q", ErrNoInvoker, fn.Handler)
}

func (f *Factory) workDir(fn serverless.Function) string {
	root := filepath.Join(f.opts.ServiceDir, f.opts.Location)
	if fn.Invoke.Dir == "" {
		return root
	}
	if filepath.IsAbs(fn.Invoke.Dir) {
		return fn.Invoke.Dir
	}
	return filepath.Join(root, fn.Invoke.Dir)
}
