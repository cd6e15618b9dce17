package thread

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/internal/space"
	"github.com/ryelabs/rye/pkg/models"
)

// transcriptState is the machine-readable tail of a transcript, embedded
// as a fenced JSON block so resume can rehydrate the exact turn list.
type transcriptState struct {
	DirectiveID string              `json:"directive_id"`
	Status      models.ThreadStatus `json:"status"`
	Model       string              `json:"model"`
	ParentID    string              `json:"parent_id,omitempty"`
	Depth       int                 `json:"depth,omitempty"`
	Result      string              `json:"result,omitempty"`
	Outputs     map[string]string   `json:"outputs,omitempty"`
	Turns       []models.Turn       `json:"turns"`
}

const stateBlockMarker = "## Machine state"

// transcriptID builds the knowledge id a thread's transcript lives under.
func (t *Thread) transcriptID() string {
	return "agent/threads/" + t.Directive.Category + "/" + t.ID
}

// persistTranscript writes the transcript as a knowledge item in the
// project space and signs it when a signer is configured.
func (t *Thread) persistTranscript() error {
	id := t.transcriptID()
	path := t.runtime.projectSpace.ItemPath(space.TypeKnowledge, id, ".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	t.mu.Lock()
	state := transcriptState{
		DirectiveID: t.Directive.ID,
		Status:      t.status,
		Model:       t.model,
		ParentID:    t.ParentID,
		Depth:       t.Depth,
		Result:      t.result,
		Outputs:     t.outputs,
		Turns:       append([]models.Turn(nil), t.turns...),
	}
	t.mu.Unlock()

	content, err := renderTranscript(t, state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	if t.runtime.signer != nil {
		return t.runtime.signer.SignFile(path)
	}
	return nil
}

func renderTranscript(t *Thread, state transcriptState) (string, error) {
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b, "id: %s\n", t.transcriptID())
	fmt.Fprintf(&b, "title: Thread %s (%s)\n", t.ID, t.Directive.ID)
	fmt.Fprintf(&b, "category: agent/threads/%s\n", t.Directive.Category)
	fmt.Fprintf(&b, "version: 1.0.0\n")
	fmt.Fprintf(&b, "author: rye-runtime\n")
	fmt.Fprintf(&b, "created_at: %s\n", t.started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "---\n\n")

	fmt.Fprintf(&b, "# Thread %s\n\nDirective: %s\nStatus: %s\n\n", t.ID, t.Directive.ID, state.Status)
	for _, turn := range state.Turns {
		fmt.Fprintf(&b, "## %s\n\n", turn.Role)
		if turn.Content != "" {
			fmt.Fprintf(&b, "%s\n\n", turn.Content)
		}
		for _, call := range turn.ToolCalls {
			fmt.Fprintf(&b, "Tool call %s (%s):\n\n```json\n%s\n```\n\n", call.ID, call.Name, string(call.Input))
		}
		for _, res := range turn.ToolResults {
			label := "result"
			if res.IsError {
				label = "error"
			}
			fmt.Fprintf(&b, "Tool %s for %s:\n\n```\n%s\n```\n\n", label, res.ToolCallID, res.Content)
		}
	}

	fmt.Fprintf(&b, "%s\n\n```json\n%s\n```\n", stateBlockMarker, stateJSON)
	return b.String(), nil
}

// parseTranscriptState extracts the machine state block from a transcript
// knowledge item's content.
func parseTranscriptState(content string) (*transcriptState, error) {
	idx := strings.LastIndex(content, stateBlockMarker)
	if idx < 0 {
		return nil, fmt.Errorf("transcript has no machine state block")
	}
	rest := content[idx:]
	start := strings.Index(rest, "```json\n")
	if start < 0 {
		return nil, fmt.Errorf("transcript machine state block is malformed")
	}
	rest = rest[start+len("```json\n"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, fmt.Errorf("transcript machine state block is unterminated")
	}
	var state transcriptState
	if err := json.Unmarshal([]byte(rest[:end]), &state); err != nil {
		return nil, fmt.Errorf("transcript machine state: %w", err)
	}
	return &state, nil
}

// FindTranscript locates the knowledge id for a thread id, or "".
func FindTranscript(projectSpace space.Space, threadID string) string {
	for _, id := range projectSpace.ListItems(space.TypeKnowledge) {
		if strings.HasPrefix(id, "agent/threads/") && strings.HasSuffix(id, "/"+threadID) {
			return id
		}
	}
	return ""
}

// ReadTranscript returns a thread's verified transcript content.
func ReadTranscript(loader *item.Loader, projectSpace space.Space, threadID string) (string, error) {
	id := FindTranscript(projectSpace, threadID)
	if id == "" {
		return "", fmt.Errorf("no transcript for thread %s", threadID)
	}
	k, err := loader.LoadKnowledge(id)
	if err != nil {
		return "", err
	}
	return k.Content, nil
}

// Summary is a persisted thread's terminal state as recorded in its
// transcript.
type Summary struct {
	ThreadID    string
	DirectiveID string
	Status      models.ThreadStatus
	Model       string
	Turns       int
	Result      string
}

// LoadSummary reads and verifies a thread's transcript and returns its
// machine state summary.
func LoadSummary(loader *item.Loader, projectSpace space.Space, threadID string) (*Summary, error) {
	content, err := ReadTranscript(loader, projectSpace, threadID)
	if err != nil {
		return nil, err
	}
	state, err := parseTranscriptState(content)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ThreadID:    threadID,
		DirectiveID: state.DirectiveID,
		Status:      state.Status,
		Model:       state.Model,
		Turns:       len(state.Turns),
		Result:      state.Result,
	}, nil
}

// FindTranscript locates the knowledge id for a thread id, or "".
func (r *Runtime) FindTranscript(threadID string) string {
	return FindTranscript(r.projectSpace, threadID)
}

// ReadTranscript returns a thread's verified transcript content.
func (r *Runtime) ReadTranscript(threadID string) (string, error) {
	return ReadTranscript(r.loader, r.projectSpace, threadID)
}

// Rehydrate reconstructs a terminal thread from its transcript so it can
// be resumed. The rebuilt thread keeps its original id, turn list, and
// directive; capabilities and budget come from the directive as at spawn.
func (r *Runtime) Rehydrate(threadID string) (*Thread, error) {
	content, err := r.ReadTranscript(threadID)
	if err != nil {
		return nil, err
	}
	state, err := parseTranscriptState(content)
	if err != nil {
		return nil, err
	}
	d, err := r.loader.LoadDirective(state.DirectiveID)
	if err != nil {
		return nil, err
	}

	t := r.NewThread(d, Options{ModelOverride: state.Model})
	t.ID = threadID
	t.ParentID = state.ParentID
	t.Depth = state.Depth
	t.mu.Lock()
	t.status = state.Status
	t.turns = state.Turns
	t.result = state.Result
	if state.Outputs != nil {
		t.outputs = state.Outputs
	}
	t.mu.Unlock()
	return t, nil
}
