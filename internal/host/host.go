// Package host implements the multi-agent host: it demultiplexes inbound
// JSON-RPC requests to the named agent they target and runs the stdio
// JSON-RPC loop a CLI binary drives. Demultiplexing is kept a pure
// function over the parsed request and the agents map.
package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"goa.design/agenthost/internal/a2a"
	"goa.design/agenthost/internal/agent"
	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
)

// Host demultiplexes inbound requests across every loaded agent and runs
// the line-delimited stdio JSON-RPC loop.
type Host struct {
	agents map[string]*agent.Agent
	clock  a2a.Clock
}

// New constructs a Host from one or more already-built agents. Agent
// names must be unique.
func New(agents []*agent.Agent, clock a2a.Clock) (*Host, error) {
	if len(agents) == 0 {
		return nil, errs.New(errs.InvalidArgument, "host requires at least one loaded agent")
	}
	m := make(map[string]*agent.Agent, len(agents))
	for _, a := range agents {
		if _, exists := m[a.Name]; exists {
			return nil, errs.Newf(errs.InvalidArgument, "duplicate agent name %q", a.Name)
		}
		m[a.Name] = a
	}
	if clock == nil {
		clock = a2a.NewSystemClock(func() int64 { return time.Now().UnixMilli() })
	}
	return &Host{agents: m, clock: clock}, nil
}

// Agent returns the loaded agent named name, or nil if none matches.
func (h *Host) Agent(name string) *agent.Agent { return h.agents[name] }

// requestEnvelope is the minimal shape ResolveAgent needs to read out of a
// raw JSON-RPC request: the method (for the <agent>::<method> prefix form)
// and the two places an explicit agent name can appear.
type requestEnvelope struct {
	Method string `json:"method"`
	Params struct {
		Agent   string `json:"agent"`
		Message struct {
			Metadata map[string]any `json:"metadata"`
		} `json:"message"`
	} `json:"params"`
}

// ResolveAgent demultiplexes raw to the agent it targets, in precedence
// order: message.metadata.agent, params.agent, the
// `<agent>::<method>` prefix, and finally — only when exactly one agent is
// loaded — that agent. Any other case is InvalidArgument.
func (h *Host) ResolveAgent(raw []byte) (*agent.Agent, error) {
	var env requestEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if v, ok := env.Params.Message.Metadata["agent"]; ok {
			if name, ok := v.(string); ok && name != "" {
				if a, ok := h.agents[name]; ok {
					return a, nil
				}
			}
		}
		if env.Params.Agent != "" {
			if a, ok := h.agents[env.Params.Agent]; ok {
				return a, nil
			}
		}
		if idx := strings.Index(env.Method, "::"); idx >= 0 {
			if a, ok := h.agents[env.Method[:idx]]; ok {
				return a, nil
			}
		}
	}
	if len(h.agents) == 1 {
		for _, a := range h.agents {
			return a, nil
		}
	}
	return nil, errs.New(errs.InvalidArgument, "unable to resolve target agent: no agent in message metadata, params, or method prefix, and more than one agent is loaded")
}

// plaintextRequest wraps a non-JSON-object stdio line into a synthetic
// message.sendStream request (plaintext mode), generating a fresh message
// id and context id.
func (h *Host) plaintextRequest(line string) []byte {
	millis, counter := h.clock.Now()
	msgID := ids.NewContextId(millis, counter) // reuse the temporal shape for a unique opaque id
	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      any    `json:"id"`
		Method  string `json:"method"`
		Params  struct {
			Message struct {
				MessageID string `json:"messageId"`
				Role      string `json:"role"`
				Parts     []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"message"`
		} `json:"params"`
	}{JSONRPC: "2.0", Method: "message.sendStream"}
	req.Params.Message.MessageID = string(msgID)
	req.Params.Message.Role = "user"
	req.Params.Message.Parts = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: line}}
	data, _ := json.Marshal(req)
	return data
}

// looksLikeJSONObject reports whether raw is (syntactically) a JSON object,
// as opposed to plain text that should be wrapped by plaintextRequest.
func looksLikeJSONObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// lineSink is a a2a.StreamSink that writes each chunk as its own
// line-delimited JSON object to w, flushing after every line.
type lineSink struct {
	w  *bufio.Writer
	mu *sync.Mutex
}

func (s *lineSink) Send(_ context.Context, resp a2a.JsonRpcResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Run drives the stdio JSON-RPC loop: reads one line at a time from in,
// resolves and dispatches each to its target agent, and writes every
// response line-delimited to out. Run returns when in reaches EOF or ctx
// is cancelled; a per-line dispatch error never stops the loop (it is
// reported back as a JSON-RPC error response).
func (h *Host) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	writer := bufio.NewWriter(out)
	var writeMu sync.Mutex
	sink := &lineSink{w: writer, mu: &writeMu}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		raw := []byte(line)
		if !looksLikeJSONObject(raw) {
			raw = h.plaintextRequest(line)
		}

		target, err := h.ResolveAgent(raw)
		if err != nil {
			_ = sink.Send(ctx, a2a.JsonRpcResponse{JSONRPC: "2.0", Error: &a2a.JsonRpcError{Code: -32602, Message: "Invalid params", Data: err.Error()}})
			continue
		}

		resp, err := target.Dispatch(ctx, raw, sink)
		if err != nil {
			_ = sink.Send(ctx, a2a.JsonRpcResponse{JSONRPC: "2.0", Error: &a2a.JsonRpcError{Code: -32603, Message: "Internal error", Data: err.Error()}})
			continue
		}
		if resp != nil {
			if sendErr := sink.Send(ctx, *resp); sendErr != nil {
				return sendErr
			}
		}
	}
	return scanner.Err()
}
