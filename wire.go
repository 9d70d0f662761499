package aisearch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// wireEnvelope is the outer shape of every data frame.
// Field names follow the upstream's snake_case convention; nothing outside
// this file should know them.
type wireEnvelope struct {
	Event          string          `json:"event"`
	ConversationID string          `json:"conversation_id"`
	WorkflowRunID  string          `json:"workflow_run_id"`
	Answer         string          `json:"answer"`
	Data           json.RawMessage `json:"data"`
	Metadata       *wireMetadata   `json:"metadata"`
}

type wireWorkflowStarted struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	CreatedAt  int64  `json:"created_at"`
}

type wireNode struct {
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	Title    string `json:"title"`
	Index    int    `json:"index"`
	Status   string `json:"status"`
}

type wireWorkflowFinished struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	Status          string         `json:"status"`
	Error           string         `json:"error"`
	Outputs         map[string]any `json:"outputs"`
	ElapsedTime     float64        `json:"elapsed_time"`
	TotalTokens     int            `json:"total_tokens"`
	TotalSteps      int            `json:"total_steps"`
	ExceptionsCount int            `json:"exceptions_count"`
	CreatedBy       map[string]any `json:"created_by"`
	CreatedAt       int64          `json:"created_at"`
	FinishedAt      int64          `json:"finished_at"`
}

type wireMetadata struct {
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
	TotalPrice       json.Number `json:"total_price"`
	Currency         string      `json:"currency"`
	Latency          float64     `json:"latency"`
}

// DecodeEvent parses one frame payload into a StreamEvent.
//
// Invalid JSON yields a *FrameError wrapping ErrMalformedFrame; a JSON object
// whose event kind is not one of the six known kinds yields a *FrameError
// wrapping ErrUnknownEventKind.
func DecodeEvent(payload []byte) (StreamEvent, error) {
	var env wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, &FrameError{Frame: string(payload), Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	switch EventKind(env.Event) {
	case KindWorkflowStarted:
		var d wireWorkflowStarted
		if err := decodeData(env.Data, &d); err != nil {
			return nil, malformed(payload, env.Event, err)
		}
		runID := env.WorkflowRunID
		if runID == "" {
			runID = d.ID
		}
		return WorkflowStarted{
			Conversation:  env.ConversationID,
			WorkflowRunID: runID,
			WorkflowID:    d.WorkflowID,
			CreatedAt:     unixTime(d.CreatedAt),
		}, nil

	case KindNodeStarted:
		var d wireNode
		if err := decodeData(env.Data, &d); err != nil {
			return nil, malformed(payload, env.Event, err)
		}
		return NodeStarted{
			Conversation: env.ConversationID,
			NodeID:       d.NodeID,
			NodeType:     d.NodeType,
			Title:        d.Title,
			Index:        d.Index,
		}, nil

	case KindNodeFinished:
		var d wireNode
		if err := decodeData(env.Data, &d); err != nil {
			return nil, malformed(payload, env.Event, err)
		}
		return NodeFinished{
			Conversation: env.ConversationID,
			NodeID:       d.NodeID,
			NodeType:     d.NodeType,
			Title:        d.Title,
			Index:        d.Index,
			Status:       d.Status,
		}, nil

	case KindMessage:
		return Message{Conversation: env.ConversationID, Answer: env.Answer}, nil

	case KindWorkflowFinished:
		var d wireWorkflowFinished
		if err := decodeData(env.Data, &d); err != nil {
			return nil, malformed(payload, env.Event, err)
		}
		ev := WorkflowFinished{
			Conversation: env.ConversationID,
			Summary:      summaryFromWire(&d),
		}
		if answer, ok := d.Outputs["answer"].(string); ok {
			ev.OutputsAnswer = &answer
		}
		return ev, nil

	case KindMessageEnd:
		ev := MessageEnd{Conversation: env.ConversationID}
		if env.Metadata != nil && env.Metadata.Usage != nil {
			usage, err := usageFromWire(env.Metadata.Usage)
			if err != nil {
				return nil, malformed(payload, env.Event, err)
			}
			ev.Usage = usage
		}
		return ev, nil

	default:
		return nil, &FrameError{Frame: string(payload), Kind: env.Event, Err: ErrUnknownEventKind}
	}
}

// usageFromWire maps every wire usage field onto exactly one Usage field.
func usageFromWire(w *wireUsage) (*Usage, error) {
	price := w.TotalPrice.String()
	if price != "" {
		if _, err := strconv.ParseFloat(price, 64); err != nil {
			return nil, fmt.Errorf("total_price %q: %w", price, err)
		}
	}
	return &Usage{
		PromptTokens:     w.PromptTokens,
		CompletionTokens: w.CompletionTokens,
		TotalTokens:      w.TotalTokens,
		TotalPrice:       price,
		Currency:         w.Currency,
		Latency:          seconds(w.Latency),
	}, nil
}

// summaryFromWire maps every wire workflow_finished field onto exactly one
// WorkflowSummary field.
func summaryFromWire(w *wireWorkflowFinished) WorkflowSummary {
	return WorkflowSummary{
		WorkflowRunID:   w.ID,
		WorkflowID:      w.WorkflowID,
		Status:          w.Status,
		Error:           w.Error,
		Outputs:         w.Outputs,
		ElapsedTime:     seconds(w.ElapsedTime),
		TotalTokens:     w.TotalTokens,
		TotalSteps:      w.TotalSteps,
		ExceptionsCount: w.ExceptionsCount,
		CreatedBy:       w.CreatedBy,
		CreatedAt:       unixTime(w.CreatedAt),
		FinishedAt:      unixTime(w.FinishedAt),
	}
}

// decodeData decodes the nested data object. A missing object is not an error.
func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func malformed(payload []byte, kind string, err error) *FrameError {
	return &FrameError{Frame: string(payload), Kind: kind, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
