package budget

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

func msg(role, content string) llm.Message {
	return llm.Message{Role: role, Content: content}
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	if got := Estimate(nil); got != 0 {
		t.Errorf("Estimate(nil) = %d, want 0", got)
	}
	// "user" (4) + 12 chars = 16 chars -> 4 tokens.
	if got := Estimate([]llm.Message{msg(llm.RoleUser, "flood in york")}); got != 4 {
		t.Errorf("Estimate = %d, want 4", got)
	}
	// Short messages still cost at least one token.
	if got := Estimate([]llm.Message{{Role: "x"}}); got != 1 {
		t.Errorf("Estimate = %d, want 1", got)
	}
	withCalls := llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get-flood-data", Arguments: `{"radius_km":5}`}},
	}
	if Estimate([]llm.Message{withCalls}) <= Estimate([]llm.Message{{Role: llm.RoleAssistant}}) {
		t.Error("tool calls should contribute to the estimate")
	}
}

func TestFit_UnderCeilingUnchanged(t *testing.T) {
	t.Parallel()
	in := []llm.Message{msg(llm.RoleSystem, "sys"), msg(llm.RoleUser, "hi")}
	out := Fit(in, 1000)
	if &out[0] != &in[0] || len(out) != len(in) {
		t.Fatal("Fit should return the input when under the ceiling")
	}
}

func TestFit_KeepsSystemUserAndFinalBlock(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 400)
	in := []llm.Message{
		msg(llm.RoleSystem, "You summarise flood risk."),
		msg(llm.RoleUser, "old question "+long),
		msg(llm.RoleAssistant, "old answer "+long),
		msg(llm.RoleUser, "Is the A1 flooded?"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a", Name: "get-flood-data"}}},
		{Role: llm.RoleTool, ToolCallID: "a", Content: long},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "b", Name: "get-highways-incidents"},
			{ID: "c", Name: "get-correlation-summary"},
		}},
		{Role: llm.RoleTool, ToolCallID: "b", Content: "[]"},
		{Role: llm.RoleTool, ToolCallID: "c", Content: "{}"},
	}

	out := Fit(in, 50)
	want := []llm.Message{in[0], in[3], in[6], in[7], in[8]}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("Fit =\n%+v\nwant\n%+v", out, want)
	}
	if Estimate(out) > Estimate(in) {
		t.Error("estimate must not grow")
	}
}

func TestFit_NoSystemMessage(t *testing.T) {
	t.Parallel()
	in := []llm.Message{
		msg(llm.RoleUser, strings.Repeat("q", 200)),
		msg(llm.RoleAssistant, strings.Repeat("a", 200)),
		msg(llm.RoleUser, "latest"),
	}
	out := Fit(in, 10)
	if len(out) != 2 || out[0].Content != in[1].Content || out[1].Content != "latest" {
		t.Fatalf("Fit = %+v", out)
	}
}

// randomConversation builds a plausible conversation: optional system prompt,
// history, a user message and a number of assistant/tool exchanges.
func randomConversation(r *rand.Rand) []llm.Message {
	var msgs []llm.Message
	if r.IntN(2) == 0 {
		msgs = append(msgs, msg(llm.RoleSystem, strings.Repeat("s", r.IntN(200))))
	}
	for i := r.IntN(4); i > 0; i-- {
		msgs = append(msgs, msg(llm.RoleUser, strings.Repeat("u", r.IntN(300))))
		msgs = append(msgs, msg(llm.RoleAssistant, strings.Repeat("a", r.IntN(300))))
	}
	msgs = append(msgs, msg(llm.RoleUser, strings.Repeat("q", 1+r.IntN(100))))
	for ex := r.IntN(4); ex > 0; ex-- {
		n := 1 + r.IntN(3)
		asst := llm.Message{Role: llm.RoleAssistant}
		var tools []llm.Message
		for k := 0; k < n; k++ {
			id := fmt.Sprintf("call_%d_%d", ex, k)
			asst.ToolCalls = append(asst.ToolCalls, llm.ToolCall{ID: id, Name: "get-river-levels"})
			tools = append(tools, llm.Message{Role: llm.RoleTool, ToolCallID: id, Content: strings.Repeat("t", r.IntN(500))})
		}
		msgs = append(msgs, asst)
		msgs = append(msgs, tools...)
	}
	return msgs
}

func indexOf(msgs []llm.Message, target llm.Message) int {
	for i, m := range msgs {
		if reflect.DeepEqual(m, target) {
			return i
		}
	}
	return -1
}

func TestFit_Properties(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(42, 7))
	for iter := 0; iter < 500; iter++ {
		in := randomConversation(r)
		ceiling := r.IntN(400)
		out := Fit(in, ceiling)

		if Estimate(out) > Estimate(in) {
			t.Fatalf("iter %d: estimate grew from %d to %d", iter, Estimate(in), Estimate(out))
		}
		again := Fit(out, ceiling)
		if !reflect.DeepEqual(again, out) {
			t.Fatalf("iter %d: Fit is not idempotent", iter)
		}
		if Estimate(in) <= ceiling {
			continue
		}

		var sysIdx, userIdx, asstIdx = -1, -1, -1
		if in[0].Role == llm.RoleSystem {
			sysIdx = indexOf(out, in[0])
			if sysIdx != 0 {
				t.Fatalf("iter %d: system message missing or moved (idx %d)", iter, sysIdx)
			}
		}
		for i := len(in) - 1; i >= 0; i-- {
			if in[i].Role == llm.RoleUser {
				userIdx = indexOf(out, in[i])
				break
			}
		}
		if userIdx < 0 {
			t.Fatalf("iter %d: latest user message missing", iter)
		}
		for i := len(in) - 1; i >= 0; i-- {
			if in[i].Role != llm.RoleAssistant {
				continue
			}
			asstIdx = indexOf(out, in[i])
			if asstIdx < 0 {
				t.Fatalf("iter %d: final assistant message missing", iter)
			}
			for j := i + 1; j < len(in); j++ {
				if k := indexOf(out, in[j]); k != asstIdx+(j-i) {
					t.Fatalf("iter %d: tool answer %d not kept after assistant", iter, j)
				}
			}
			if asstIdx < userIdx && i > indexOf(in, out[userIdx]) {
				t.Fatalf("iter %d: relative order broken", iter)
			}
			break
		}
		if sysIdx >= 0 && userIdx < sysIdx {
			t.Fatalf("iter %d: user before system", iter)
		}
		for _, m := range out {
			if m.Role == llm.RoleTool && asstIdx < 0 {
				t.Fatalf("iter %d: orphan tool message", iter)
			}
		}
	}
}

func TestCapList(t *testing.T) {
	t.Parallel()
	full := make([]int, 300)
	for i := range full {
		full[i] = i
	}
	capped := CapList(full, 3)
	if len(capped) != 3 {
		t.Fatalf("len = %d, want 3", len(capped))
	}
	if len(full) != 300 {
		t.Fatalf("input mutated: len = %d", len(full))
	}
	capped[0] = 99
	if full[0] != 0 {
		t.Error("capped view must not alias the full result")
	}
	if got := CapList(full, 500); len(got) != 300 {
		t.Errorf("cap above length: len = %d, want 300", len(got))
	}
	if got := CapList(full, 0); len(got) != 300 {
		t.Errorf("zero cap should disable capping, len = %d", len(got))
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"This is a long message", 10, "This is a …"},
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"", 5, ""},
		{"no limit", 0, "no limit"},
		{"Überflutung an der Ouse", 4, "Über…"},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if l := utf8.RuneCountInString(tt.in); tt.max > 0 && l > tt.max {
			if n := utf8.RuneCountInString(got); n != tt.max+1 {
				t.Errorf("Truncate(%q, %d) has %d runes, want %d", tt.in, tt.max, n, tt.max+1)
			}
		}
	}
}

func TestBudget(t *testing.T) {
	t.Parallel()
	b := New(0, DefaultLimits())
	if b.Ceiling != DefaultCeiling {
		t.Errorf("Ceiling = %d, want default", b.Ceiling)
	}
	if b.Limits.MaxFloods != 10 || b.Limits.MaxIncidents != 20 {
		t.Errorf("unexpected default limits %+v", b.Limits)
	}
	small := New(5, Limits{})
	msgs := []llm.Message{msg(llm.RoleSystem, strings.Repeat("s", 100)), msg(llm.RoleUser, "q")}
	if !small.Over(msgs) {
		t.Error("expected Over to report true")
	}
	if got := small.Fit(msgs); len(got) != 2 {
		t.Errorf("Fit dropped required messages: %+v", got)
	}
}
