package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/eventflow/api/handlers"
	"github.com/BaSui01/eventflow/internal/tlsutil"
	"github.com/BaSui01/eventflow/types"
)

// =============================================================================
// 📨 submit 命令
// =============================================================================

// submitOptions submit 子命令参数
type submitOptions struct {
	addr       string
	apiKey     string
	wait       bool
	timeout    time.Duration
	request    handlers.EventRequest
	rawPayload string
}

func parseSubmitFlags(args []string) (*submitOptions, error) {
	opts := &submitOptions{}
	var level, visibility string

	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.addr, "addr", "http://localhost:8080", "Node address")
	fs.StringVar(&opts.apiKey, "api-key", os.Getenv("EVENTFLOW_API_KEY"), "API key")
	fs.BoolVar(&opts.wait, "wait", false, "Run synchronously and print the run report")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	fs.StringVar(&opts.request.ID, "id", "", "Envelope id (generated when empty)")
	fs.StringVar(&opts.request.Event, "event", "", "Event type")
	fs.StringVar(&opts.request.Source, "source", "", "Emitting component")
	fs.StringVar(&level, "level", string(types.LevelOperational), "Event level")
	fs.StringVar(&opts.request.Domain, "domain", "", "Domain")
	fs.StringVar(&opts.request.Entity, "entity", "", "Entity the event is about")
	fs.StringVar(&visibility, "visibility", string(types.VisibilityLocal), "LOCAL, CLUSTER or PUBLIC")
	fs.StringVar(&opts.rawPayload, "payload", "", "Payload as a JSON object")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.request.Level = types.Level(strings.ToUpper(level))
	opts.request.Visibility = types.Visibility(strings.ToUpper(visibility))
	if opts.request.Event == "" || opts.request.Source == "" {
		return nil, fmt.Errorf("--event and --source are required")
	}
	if !opts.request.Level.Valid() {
		return nil, fmt.Errorf("invalid level %q", level)
	}
	if opts.rawPayload != "" {
		if err := json.Unmarshal([]byte(opts.rawPayload), &opts.request.Payload); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	return opts, nil
}

// submitEvent 向节点提交事件，返回响应体
func submitEvent(ctx context.Context, client *http.Client, opts *submitOptions) (*handlers.Response, error) {
	body, err := json.Marshal(opts.request)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(opts.addr, "/") + "/api/v1/events"
	if opts.wait {
		url += "?wait=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out handlers.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		if out.Error != nil {
			return &out, fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message)
		}
		return &out, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return &out, nil
}

func runSubmit(args []string) {
	opts, err := parseSubmitFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	resp, err := submitEvent(ctx, tlsutil.SecureHTTPClient(opts.timeout), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
		cancel()
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(resp.Data, "", "  ")
	fmt.Println(string(out))
}
