package aisearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStatus_Apply(t *testing.T) {
	analyze := NodeRef{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1}
	answer := NodeRef{NodeID: "n2", Title: "Answer", NodeType: "llm", Index: 2}

	tests := []struct {
		name   string
		events []StreamEvent
		want   WorkflowStatus
	}{
		{
			name:   "initial",
			events: nil,
			want:   WorkflowStatus{},
		},
		{
			name:   "started",
			events: []StreamEvent{WorkflowStarted{}},
			want:   WorkflowStatus{Running: true},
		},
		{
			name:   "node running",
			events: []StreamEvent{WorkflowStarted{}, NodeStarted{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1}},
			want:   WorkflowStatus{Running: true, Current: &analyze},
		},
		{
			name: "node finished clears current",
			events: []StreamEvent{
				WorkflowStarted{},
				NodeStarted{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1},
				NodeFinished{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1},
			},
			want: WorkflowStatus{Running: true, Completed: []NodeRef{analyze}},
		},
		{
			name: "later start overwrites current",
			events: []StreamEvent{
				NodeStarted{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1},
				NodeStarted{NodeID: "n2", Title: "Answer", NodeType: "llm", Index: 2},
			},
			want: WorkflowStatus{Current: &answer},
		},
		{
			name: "out of order finish keeps current",
			events: []StreamEvent{
				NodeStarted{NodeID: "n2", Title: "Answer", NodeType: "llm", Index: 2},
				NodeFinished{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1},
			},
			want: WorkflowStatus{Current: &answer, Completed: []NodeRef{analyze}},
		},
		{
			name: "same index different title keeps current",
			events: []StreamEvent{
				NodeStarted{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1},
				NodeFinished{NodeID: "n9", Title: "Other", NodeType: "code", Index: 1},
			},
			want: WorkflowStatus{Current: &analyze, Completed: []NodeRef{{NodeID: "n9", Title: "Other", NodeType: "code", Index: 1}}},
		},
		{
			name: "workflow finished",
			events: []StreamEvent{
				WorkflowStarted{},
				NodeStarted{NodeID: "n1", Title: "Analyze", NodeType: "llm", Index: 1},
				WorkflowFinished{},
			},
			want: WorkflowStatus{},
		},
		{
			name:   "messages do not change status",
			events: []StreamEvent{WorkflowStarted{}, Message{Answer: "x"}, MessageEnd{}},
			want:   WorkflowStatus{Running: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProjectStatus(tt.events))
		})
	}
}

func TestWorkflowStatus_CompletedIsPermanent(t *testing.T) {
	var s WorkflowStatus
	s = s.Apply(NodeFinished{Title: "A", Index: 1})
	s = s.Apply(WorkflowFinished{})
	s = s.Apply(WorkflowStarted{})
	s = s.Apply(NodeFinished{Title: "B", Index: 2})

	require.Len(t, s.Completed, 2)
	assert.Equal(t, "A", s.Completed[0].Title)
	assert.Equal(t, "B", s.Completed[1].Title)
}

func TestWorkflowStatus_ApplyDoesNotAlias(t *testing.T) {
	base := ProjectStatus([]StreamEvent{
		NodeFinished{Title: "A", Index: 1},
		NodeFinished{Title: "B", Index: 2},
	})
	base.Completed = base.Completed[:1] // leave spare capacity

	left := base.Apply(NodeFinished{Title: "L", Index: 3})
	right := base.Apply(NodeFinished{Title: "R", Index: 3})

	assert.Equal(t, "L", left.Completed[1].Title)
	assert.Equal(t, "R", right.Completed[1].Title)
	assert.Len(t, base.Completed, 1)
}

func TestProgress_StatusIsACopy(t *testing.T) {
	var p Progress
	p.Apply(NodeStarted{Title: "A", Index: 1})
	p.Apply(NodeFinished{Title: "Z", Index: 9})

	s := p.Status()
	s.Completed[0].Title = "changed"
	s.Current.Title = "changed"

	again := p.Status()
	assert.Equal(t, "Z", again.Completed[0].Title)
	assert.Equal(t, "A", again.Current.Title)
}
