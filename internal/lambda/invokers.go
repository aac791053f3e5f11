package lambda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"offline-sns/internal/serverless"
)

type httpHandler struct {
	client *http.Client
	url    string
}

func newHTTPHandler(client *http.Client, raw string) (*httpHandler, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid invoke url %q", raw)
	}
	return &httpHandler{client: client, url: u.String()}, nil
}

// Invoke posts the event as JSON. Context fields travel in the headers the
// Lambda runtime API uses.
func (h *httpHandler) Invoke(ctx context.Context, event any, lc *Context) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if lc != nil {
		req.Header.Set("Lambda-Runtime-Aws-Request-Id", lc.AWSRequestID)
		req.Header.Set("Lambda-Runtime-Invoked-Function-Arn", lc.InvokedFunctionArn)
		req.Header.Set("Lambda-Runtime-Deadline-Ms", strconv.FormatInt(lc.Deadline.UnixMilli(), 10))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("invoke returned status %d", resp.StatusCode)
	}
	return nil
}

type commandHandler struct {
	argv   []string
	dir    string
	env    []string
	output io.Writer
}

func newCommandHandler(fn serverless.Function, dir, region string, output io.Writer) *commandHandler {
	env := os.Environ()
	env = append(env,
		"AWS_LAMBDA_FUNCTION_NAME="+fn.Name,
		"AWS_LAMBDA_FUNCTION_MEMORY_SIZE="+strconv.Itoa(fn.MemorySize),
		"AWS_LAMBDA_FUNCTION_TIMEOUT="+strconv.Itoa(fn.Timeout),
		"_HANDLER="+fn.Handler,
	)
	if region != "" {
		env = append(env, "AWS_REGION="+region)
	}
	keys := make([]string, 0, len(fn.Environment))
	for k := range fn.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+fn.Environment[k])
	}
	return &commandHandler{
		argv:   append([]string(nil), fn.Invoke.Command...),
		dir:    dir,
		env:    env,
		output: output,
	}
}

// Invoke runs the command once with the event as JSON on stdin. A non-zero
// exit is a failed invocation.
func (h *commandHandler) Invoke(ctx context.Context, event any, lc *Context) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	cmd := exec.CommandContext(ctx, h.argv[0], h.argv[1:]...)
	cmd.Dir = h.dir
	cmd.Env = h.env
	if lc != nil {
		cmd.Env = append(append([]string(nil), h.env...),
			"AWS_LAMBDA_LOG_GROUP_NAME="+lc.LogGroupName,
			"AWS_LAMBDA_LOG_STREAM_NAME="+lc.LogStreamName,
			"AWS_LAMBDA_FUNCTION_VERSION="+lc.FunctionVersion,
		)
	}
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = h.output
	cmd.Stderr = h.output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", h.argv[0], err)
	}
	return nil
}
