package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/danmuck/mcpbridge/internal/testutil/mcptest"
	"github.com/danmuck/mcpbridge/internal/testutil/testlog"
)

func echoServer(t *testing.T) *mcptest.Server {
	t.Helper()
	return mcptest.New(t, mcptest.Options{}, func(call mcptest.Call) mcptest.Reply {
		if call.Method == jsonrpc.MethodToolsList {
			return mcptest.Reply{Result: map[string]any{"tools": []any{
				map[string]any{"name": "echo", "description": "echo input\nmore detail"},
			}}}
		}
		var p jsonrpc.CallToolParams
		_ = json.Unmarshal(call.Params, &p)
		if p.Name == "fail" {
			return mcptest.Reply{Result: map[string]any{
				"content": []any{map[string]any{"type": "text", "text": "bad input"}},
				"isError": true,
			}}
		}
		return mcptest.Reply{Result: mcptest.TextResult(fmt.Sprint(p.Arguments["msg"]))}
	})
}

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestRunToolsAndCall(t *testing.T) {
	testlog.Start(t)
	srv := echoServer(t)
	var out, errOut bytes.Buffer

	code := run(context.Background(), []string{"-url", srv.URL(), "tools"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("tools exit=%d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "echo") || !strings.Contains(out.String(), "echo input") || strings.Contains(out.String(), "more detail") {
		t.Fatalf("tools output=%q", out.String())
	}

	out.Reset()
	code = run(context.Background(), []string{"-url", srv.URL(), "call", "echo", `{"msg":"hello"}`}, &out, &errOut)
	if code != 0 || strings.TrimSpace(out.String()) != "hello" {
		t.Fatalf("call exit=%d out=%q stderr=%s", code, out.String(), errOut.String())
	}

	out.Reset()
	code = run(context.Background(), []string{"-url", srv.URL(), "call", "fail"}, &out, &errOut)
	if code != 1 || strings.TrimSpace(out.String()) != "bad input" {
		t.Fatalf("tool error exit=%d out=%q", code, out.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	testlog.Start(t)
	var out, errOut bytes.Buffer
	if code := run(context.Background(), nil, &out, &errOut); code != 2 {
		t.Fatalf("no command exit=%d", code)
	}
	if code := run(context.Background(), []string{"-url", "http://x", "bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command exit=%d", code)
	}
	if code := run(context.Background(), []string{"-url", "http://x", "call", "t", "[1]"}, &out, &errOut); code != 2 {
		t.Fatalf("bad args exit=%d", code)
	}
}

func TestRunProbe(t *testing.T) {
	testlog.Start(t)
	srv := echoServer(t)
	catalog := writeCatalog(t, fmt.Sprintf(`
[[servers]]
name = "live"
url = %q

[[servers]]
name = "dead"
url = "http://127.0.0.1:1"

[[servers]]
name = "off"
url = "http://127.0.0.1:2"
enabled = false
`, srv.URL()))

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-catalog", catalog, "-json", "probe"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("probe exit=%d stderr=%s", code, errOut.String())
	}
	var results []probeResult
	if err := json.Unmarshal(out.Bytes(), &results); err != nil {
		t.Fatalf("decode probe output: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("disabled server should be skipped: %+v", results)
	}
	if results[0].Server != "dead" || results[0].Err == "" {
		t.Fatalf("dead result=%+v", results[0])
	}
	if results[1].Server != "live" || results[1].Tools != 1 || results[1].Err != "" {
		t.Fatalf("live result=%+v", results[1])
	}
}
