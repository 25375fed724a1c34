package baseline

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bellwetherhq/bellwether/pkg/interview"
	"github.com/bellwetherhq/bellwether/pkg/mcp"
	"github.com/bellwetherhq/bellwether/pkg/workflow"
)

// Mode names how the interview was driven.
type Mode string

const (
	ModeStructural Mode = "structural"
	ModeExplore    Mode = "explore"
)

type Metadata struct {
	AuditID       string    `json:"auditId"`
	Mode          Mode      `json:"mode"`
	GeneratedAt   time.Time `json:"generatedAt"`
	CLIVersion    string    `json:"cliVersion"`
	ServerCommand string    `json:"serverCommand,omitempty"`
	ServerName    string    `json:"serverName"`
	DurationMs    int64     `json:"durationMs"`
	Personas      []string  `json:"personas,omitempty"`
	Model         string    `json:"model,omitempty"`
}

// ServerFingerprint identifies the audited server. Capabilities are sorted.
type ServerFingerprint struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	ProtocolVersion string   `json:"protocolVersion"`
	Capabilities    []string `json:"capabilities"`
}

// ToolCapability is the canonical record of one discovered tool.
type ToolCapability struct {
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	InputSchema         json.RawMessage `json:"inputSchema,omitempty"`
	SchemaHash          string          `json:"schemaHash"`
	ResponseFingerprint string          `json:"responseFingerprint,omitempty"`
	OutputShape         json.RawMessage `json:"outputShape,omitempty"`
	ErrorPatterns       []string        `json:"errorPatterns,omitempty"`
}

type Capabilities struct {
	Tools     []ToolCapability `json:"tools"`
	Prompts   []mcp.Prompt     `json:"prompts,omitempty"`
	Resources []mcp.Resource   `json:"resources,omitempty"`
}

// Profile is a tool profile in assertion form.
type Profile struct {
	Name       string   `json:"name"`
	Expects    []string `json:"expects,omitempty"`
	Requires   []string `json:"requires,omitempty"`
	Warns      []string `json:"warns,omitempty"`
	Notes      []string `json:"notes,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Assertion is one behavioral claim a future run can be checked against.
type Assertion struct {
	Tool string `json:"tool"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Baseline is the complete, sealable audit snapshot.
type Baseline struct {
	Version      string                  `json:"version"`
	Metadata     Metadata                `json:"metadata"`
	Server       ServerFingerprint       `json:"server"`
	Capabilities Capabilities            `json:"capabilities"`
	Interviews   []interview.Interaction `json:"interviews,omitempty"`
	ToolProfiles []Profile               `json:"toolProfiles,omitempty"`
	Workflows    []*workflow.Result      `json:"workflows,omitempty"`
	Assertions   []Assertion             `json:"assertions,omitempty"`
	Summary      string                  `json:"summary,omitempty"`
	Hash         string                  `json:"hash"`
}

// Build seals an interview result into a baseline. The integrity hash
// covers the canonicalized structural content; timestamps, latencies, and
// free-text summaries stay outside it.
func Build(result *interview.Result, mode Mode, cliVersion, serverCommand string) (*Baseline, error) {
	d := result.Discovery

	b := &Baseline{
		Version: cliVersion,
		Metadata: Metadata{
			AuditID:       uuid.NewString(),
			Mode:          mode,
			GeneratedAt:   time.Now().UTC(),
			CLIVersion:    cliVersion,
			ServerCommand: serverCommand,
			ServerName:    d.ServerInfo.Name,
			DurationMs:    result.DurationMs,
			Personas:      result.Personas,
			Model:         result.Model,
		},
		Server: ServerFingerprint{
			Name:            d.ServerInfo.Name,
			Version:         d.ServerInfo.Version,
			ProtocolVersion: d.ProtocolVersion,
			Capabilities:    sortedCopy(d.Capabilities),
		},
		Summary: result.Summary,
	}

	profiles := profilesByName(result.ToolProfiles)

	tools := make([]ToolCapability, 0, len(d.Tools))
	for _, tool := range d.Tools {
		tc := ToolCapability{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: CanonicalizeRaw(tool.InputSchema),
			SchemaHash:  SchemaHash(tool.InputSchema),
		}
		if profile, ok := profiles[tool.Name]; ok {
			tc.ResponseFingerprint, tc.OutputShape = fingerprintFrom(profile)
			tc.ErrorPatterns = errorPatterns(profile)
		}
		tools = append(tools, tc)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	b.Capabilities = Capabilities{
		Tools:     tools,
		Prompts:   sortedPrompts(d.Prompts),
		Resources: sortedResources(d.Resources),
	}

	for _, p := range result.ToolProfiles {
		b.Interviews = append(b.Interviews, p.Interactions...)
		profile := Profile{
			Name:       p.Name,
			Expects:    p.BehavioralNotes,
			Requires:   p.Limitations,
			Warns:      p.SecurityNotes,
			Notes:      p.TimingNotes,
			Confidence: p.Confidence,
		}
		b.ToolProfiles = append(b.ToolProfiles, profile)
		b.Assertions = append(b.Assertions, assertionsFrom(profile)...)
	}
	b.Workflows = result.WorkflowResults

	hash, err := b.computeHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}

// computeHash canonicalizes the structural content of the baseline. The
// same discovery and assertions always produce the same hash regardless of
// execution order or timing.
func (b *Baseline) computeHash() (string, error) {
	// Notes carry timing observations and stay outside the hash.
	profiles := make([]Profile, len(b.ToolProfiles))
	copy(profiles, b.ToolProfiles)
	for i := range profiles {
		profiles[i].Notes = nil
	}

	content := map[string]any{
		"server":       b.Server,
		"capabilities": b.Capabilities,
		"toolProfiles": profiles,
		"assertions":   b.Assertions,
	}
	raw, err := CanonicalJSON(content)
	if err != nil {
		return "", err
	}
	return hashBytes(raw), nil
}

// Verify recomputes the integrity hash and compares it to the stored one.
func (b *Baseline) Verify() bool {
	hash, err := b.computeHash()
	return err == nil && hash == b.Hash
}

// fingerprintFrom derives the response fingerprint and output shape from
// the first successful interaction. Stable because interactions within one
// tool observe program order.
func fingerprintFrom(p interview.ToolProfile) (string, json.RawMessage) {
	for _, i := range p.Interactions {
		if !i.Succeeded() || i.Response == nil {
			continue
		}
		shape := shapeOf(i.Response, 0)
		raw, err := CanonicalJSON(shape)
		if err != nil {
			return "", nil
		}
		return hashBytes(raw), raw
	}
	return "", nil
}

// errorPatterns normalizes the distinct tool-error texts observed.
func errorPatterns(p interview.ToolProfile) []string {
	seen := make(map[string]bool)
	var patterns []string
	for _, i := range p.Interactions {
		if !i.IsError {
			continue
		}
		text := normalizeErrorText(responseText(i.Response))
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		patterns = append(patterns, text)
	}
	sort.Strings(patterns)
	if len(patterns) > 10 {
		patterns = patterns[:10]
	}
	return patterns
}

func responseText(response any) string {
	switch t := response.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	raw, _ := json.Marshal(response)
	return string(raw)
}

// normalizeErrorText lowercases and strips volatile fragments (digits,
// quoted values) so the same error class collapses to one pattern.
func normalizeErrorText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if len(text) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func assertionsFrom(p Profile) []Assertion {
	var out []Assertion
	for _, text := range p.Expects {
		out = append(out, Assertion{Tool: p.Name, Kind: "expects", Text: text})
	}
	for _, text := range p.Requires {
		out = append(out, Assertion{Tool: p.Name, Kind: "requires", Text: text})
	}
	for _, text := range p.Warns {
		out = append(out, Assertion{Tool: p.Name, Kind: "warns", Text: text})
	}
	return out
}

func profilesByName(profiles []interview.ToolProfile) map[string]interview.ToolProfile {
	out := make(map[string]interview.ToolProfile, len(profiles))
	for _, p := range profiles {
		out[p.Name] = p
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedPrompts(in []mcp.Prompt) []mcp.Prompt {
	out := append([]mcp.Prompt(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedResources(in []mcp.Resource) []mcp.Resource {
	out := append([]mcp.Resource(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}
