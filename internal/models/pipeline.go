package models

import "encoding/json"

// OnErrorStrategy mirrors the teacher job pipeline's ErrorStrategy: it
// controls what the orchestrator does when a step is stepwise-failed.
// "fail" reproduces the spec's only documented behavior and is the default
// when a step omits on_error; "continue" and "fatal" are additive options
// layered on top of the same options bag.
type OnErrorStrategy string

const (
	OnErrorFail     OnErrorStrategy = "fail"
	OnErrorContinue OnErrorStrategy = "continue"
	OnErrorFatal    OnErrorStrategy = "fatal"
)

// StepName enumerates the known pipeline step names.
type StepName string

const (
	StepParseDocument StepName = "parse-document"
	StepRedact        StepName = "redact"
	StepChunk         StepName = "chunk"
	StepEmbed         StepName = "embed"
	StepIndex         StepName = "index"
)

// FanOut reports whether this step name fans out per-chunk rather than
// fanning in to a single child task.
func (n StepName) FanOut() bool {
	return n == StepEmbed || n == StepIndex
}

// StepOptions is the free-form `options` bag attached to a pipeline step.
// Known keys used by the orchestrator itself (the rest pass through to the
// worker as part of the merged carry):
//   - timeout_seconds: per-step wall-clock timeout override (default 30m).
//   - retry_cap: per-step retry cap override (default 3).
//   - max_child_failures: additive fan-out error-tolerance threshold.
//   - on_error: additive OnErrorStrategy override (default "fail").
//   - schedule: additive cron expression gating when the step's children
//     may first be scheduled, parsed with robfig/cron.
type StepOptions map[string]interface{}

func (o StepOptions) intOrDefault(key string, def int) int {
	if o == nil {
		return def
	}
	v, ok := o[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// TimeoutSeconds returns options.timeout_seconds or the 30 minute default.
func (o StepOptions) TimeoutSeconds() int {
	return o.intOrDefault("timeout_seconds", 30*60)
}

// RetryCap returns options.retry_cap, or -1 when the step doesn't set it at
// all. -1 is a "use the driver's configured default" sentinel, not a real
// cap: a step that explicitly sets retry_cap: 0 must get a real 0 back, per
// §8's "Retry cap of 0: first child failure terminally fails the step."
func (o StepOptions) RetryCap() int {
	return o.intOrDefault("retry_cap", -1)
}

// MaxChildFailures returns options.max_child_failures, the number of
// fan-out chunk failures a step tolerates before it is itself reported
// failed. -1 when unset means no tolerance: the first chunk failure fails
// the step, preserving §4.2's plain retry-cap-only behavior by default.
func (o StepOptions) MaxChildFailures() int {
	return o.intOrDefault("max_child_failures", -1)
}

// OnError returns options.on_error, defaulting to "fail".
func (o StepOptions) OnError() OnErrorStrategy {
	if o == nil {
		return OnErrorFail
	}
	v, ok := o["on_error"]
	if !ok {
		return OnErrorFail
	}
	s, _ := v.(string)
	switch OnErrorStrategy(s) {
	case OnErrorContinue, OnErrorFatal:
		return OnErrorStrategy(s)
	default:
		return OnErrorFail
	}
}

// Schedule returns options.schedule (a cron expression) and whether it was
// set at all. When set, the orchestrator's createAndAwaitWithRetry holds the
// step's first child task back via ScheduledStartAt until the expression's
// next occurrence, rather than creating it immediately.
func (o StepOptions) Schedule() (string, bool) {
	if o == nil {
		return "", false
	}
	v, ok := o["schedule"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// PipelineStep is one entry in a pipeline definition's ordered step list.
type PipelineStep struct {
	Name    StepName    `json:"name"`
	Options StepOptions `json:"options,omitempty"`
}

// PipelineDefinition is the `input` of an index-document task.
type PipelineDefinition struct {
	Description      string         `json:"description,omitempty"`
	S3Key             string         `json:"s3_key"`
	FileID            string         `json:"file_id"`
	WorkspaceID       json.Number    `json:"workspace_id"`
	OriginalFilename  string         `json:"original_filename"`
	Steps             []PipelineStep `json:"steps"`
}

// Carry is the open record threaded through the orchestrator's step loop:
// the pipeline definition's scalar fields plus whatever each step layers in
// (parsed_s3_key, redacted_s3_key, chunks, …). It is deliberately untyped —
// the orchestrator propagates fields by name without interpreting them,
// per §9's "tagged variant ↔ open record" design note.
type Carry map[string]interface{}

// NewCarry seeds a Carry from the root pipeline definition.
func NewCarry(def PipelineDefinition) Carry {
	c := Carry{
		"s3_key":            def.S3Key,
		"file_id":           def.FileID,
		"original_filename": def.OriginalFilename,
	}
	if def.WorkspaceID != "" {
		c["workspace_id"] = def.WorkspaceID
	}
	return c
}

// Merge returns a new Carry with values from overlay overlaid onto c.
// Preserves carry fields and overlays options, per §4.2's fan-in merge rule.
func (c Carry) Merge(overlay map[string]interface{}) Carry {
	out := make(Carry, len(c)+len(overlay))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// ResolvedS3Key applies the substitution rule from §4.2: prefer redacted,
// then parsed, then the original s3_key.
func (c Carry) ResolvedS3Key() string {
	if v, ok := c["redacted_s3_key"].(string); ok && v != "" {
		return v
	}
	if v, ok := c["parsed_s3_key"].(string); ok && v != "" {
		return v
	}
	if v, ok := c["s3_key"].(string); ok {
		return v
	}
	return ""
}

// Chunks returns the chunk list produced by the chunk step, if present.
func (c Carry) Chunks() []map[string]interface{} {
	raw, ok := c["chunks"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
