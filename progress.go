package aisearch

import (
	"slices"
	"sync"
)

// NodeRef identifies a workflow node for progress display.
type NodeRef struct {
	NodeID   string `json:"node_id,omitempty"`
	Title    string `json:"title"`
	NodeType string `json:"node_type"`
	Index    int    `json:"index"`
}

// WorkflowStatus is a rendering hint derived from the event stream. It
// carries nothing usable for persistence.
type WorkflowStatus struct {
	Running   bool      `json:"running"`
	Current   *NodeRef  `json:"current,omitempty"`
	Completed []NodeRef `json:"completed"`
}

// Apply returns the status after ev. The receiver is not modified, and the
// returned value shares no mutable memory with it.
func (s WorkflowStatus) Apply(ev StreamEvent) WorkflowStatus {
	next := s

	switch e := ev.(type) {
	case WorkflowStarted:
		next.Running = true

	case NodeStarted:
		next.Current = &NodeRef{NodeID: e.NodeID, Title: e.Title, NodeType: e.NodeType, Index: e.Index}

	case NodeFinished:
		ref := NodeRef{NodeID: e.NodeID, Title: e.Title, NodeType: e.NodeType, Index: e.Index}
		next.Completed = append(slices.Clip(s.Completed), ref)
		if s.Current != nil && s.Current.Index == e.Index && s.Current.Title == e.Title {
			next.Current = nil
		}

	case WorkflowFinished:
		next.Running = false
		next.Current = nil
	}

	return next
}

// ProjectStatus folds events from the initial status.
func ProjectStatus(events []StreamEvent) WorkflowStatus {
	var s WorkflowStatus
	for _, ev := range events {
		s = s.Apply(ev)
	}
	return s
}

// Progress holds a WorkflowStatus that one goroutine advances while others read it.
type Progress struct {
	mu     sync.RWMutex
	status WorkflowStatus
}

// Apply advances the status by ev.
func (p *Progress) Apply(ev StreamEvent) {
	p.mu.Lock()
	p.status = p.status.Apply(ev)
	p.mu.Unlock()
}

// Status returns a copy of the current status.
func (p *Progress) Status() WorkflowStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.status
	s.Completed = slices.Clone(p.status.Completed)
	if p.status.Current != nil {
		cur := *p.status.Current
		s.Current = &cur
	}
	return s
}
