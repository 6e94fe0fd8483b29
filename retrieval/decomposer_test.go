package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecompose_ParsesJSONObject(t *testing.T) {
	stub := &stubDecomposeLLM{response: `{"questions":[
		{"question":"what is a table binding?","reasoning":"definitions first"},
		{"question":"how is it cached?"}
	]}`}
	d := NewQueryDecomposer(stub, nil)

	got := d.Decompose(context.Background(), "explain table binding caching")
	assert.Len(t, got, 2)
	assert.Equal(t, "what is a table binding?", got[0].Question)
	assert.Equal(t, "definitions first", got[0].Reasoning)
}

func TestDecompose_ToleratesCodeFence(t *testing.T) {
	stub := &stubDecomposeLLM{response: "```json\n{\"questions\":[{\"question\":\"q1\"}]}\n```"}
	d := NewQueryDecomposer(stub, nil)

	got := d.Decompose(context.Background(), "orig")
	assert.Len(t, got, 1)
	assert.Equal(t, "q1", got[0].Question)
}

func TestDecompose_ProviderErrorFallsBack(t *testing.T) {
	stub := &stubDecomposeLLM{err: errors.New("rate limited")}
	d := NewQueryDecomposer(stub, nil)

	got := d.Decompose(context.Background(), "orig")
	assert.Equal(t, []SubQuestion{{Question: "orig"}}, got)
}

func TestDecompose_GarbageOutputFallsBack(t *testing.T) {
	stub := &stubDecomposeLLM{response: "I think the answer is..."}
	d := NewQueryDecomposer(stub, nil)

	got := d.Decompose(context.Background(), "orig")
	assert.Equal(t, []SubQuestion{{Question: "orig"}}, got)
}

func TestDecompose_EmptyQuestionsFallsBack(t *testing.T) {
	stub := &stubDecomposeLLM{response: `{"questions":[{"question":"  "}]}`}
	d := NewQueryDecomposer(stub, nil)

	got := d.Decompose(context.Background(), "orig")
	assert.Equal(t, []SubQuestion{{Question: "orig"}}, got)
}

func TestDecompose_CapsAtMaxSubQuestions(t *testing.T) {
	stub := &stubDecomposeLLM{response: `{"questions":[
		{"question":"q1"},{"question":"q2"},{"question":"q3"},
		{"question":"q4"},{"question":"q5"},{"question":"q6"},{"question":"q7"}
	]}`}
	d := NewQueryDecomposer(stub, nil)

	got := d.Decompose(context.Background(), "orig")
	assert.Len(t, got, MaxSubQuestions)
}

func TestDecompose_NilProviderFallsBack(t *testing.T) {
	d := NewQueryDecomposer(nil, nil)
	got := d.Decompose(context.Background(), "orig")
	assert.Equal(t, []SubQuestion{{Question: "orig"}}, got)
}

func TestParseSubQuestions_TopLevelArray(t *testing.T) {
	got, err := parseSubQuestions(`[{"question":"q1"},{"question":"q2"}]`)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
}
