package wire

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/encoding"
)

func codecUnderTest(t *testing.T) encoding.Codec {
	t.Helper()
	c := encoding.GetCodec(codecName)
	if c == nil {
		t.Fatalf("codec %q not registered", codecName)
	}
	return c
}

func TestCodecRoundTripsAgentFrame(t *testing.T) {
	c := codecUnderTest(t)

	in := &AgentFrame{
		Kind: AgentFrameSendMessage,
		SendMessage: &SendMessageFrame{
			RequestID:   "req-1",
			Sender:      "alice",
			Content:     "hello",
			Attachments: []string{"notes.txt"},
		},
	}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out := new(AgentFrame)
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("frame changed across the codec (-sent +received):\n%s", diff)
	}
}

func TestCodecRoundTripsPackFrameWithRawJSON(t *testing.T) {
	c := codecUnderTest(t)

	in := &PackFrame{
		Kind: PackFrameExecuteTool,
		ExecuteTool: &ExecuteToolFrame{
			RequestID:        "exec-9",
			ToolName:         "echo",
			InputJSON:        json.RawMessage(`{"message":"hi"}`),
			InvokerPrincipal: "agent-01",
		},
	}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out := new(PackFrame)
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("frame changed across the codec (-sent +received):\n%s", diff)
	}
	// The tool payload must survive byte-for-byte: the gateway routes it
	// opaquely and must not reshape what the pack receives.
	if string(out.ExecuteTool.InputJSON) != `{"message":"hi"}` {
		t.Fatalf("input payload reshaped: %s", out.ExecuteTool.InputJSON)
	}
}

func TestCodecRoundTripsEventFrameVariants(t *testing.T) {
	c := codecUnderTest(t)

	frames := []*EventFrame{
		{EventID: 1, RequestID: "req-1", Kind: "text", Text: "Hi"},
		{EventID: 2, RequestID: "req-1", Kind: "usage", Usage: &UsageWire{Input: 10, Output: 42, CacheRead: 5, Thinking: 7}},
		{EventID: 3, RequestID: "req-1", Kind: "file", File: &FileWire{Filename: "out.txt", Mime: "text/plain", Bytes: []byte("payload")}},
		{EventID: 4, RequestID: "req-1", Kind: "done", FullResponse: "Hi there"},
	}
	for _, in := range frames {
		data, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("marshal %s: %v", in.Kind, err)
		}
		out := new(EventFrame)
		if err := c.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %s: %v", in.Kind, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("event frame %s changed across the codec:\n%s", in.Kind, diff)
		}
	}
}
