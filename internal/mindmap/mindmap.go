// Package mindmap holds the mind-map graph model and the JSON extraction and
// validation logic applied to LLM output.
//
// LLM responses rarely arrive as clean JSON: models wrap the object in prose
// ("Sure! Here is your mind map: {...}"), markdown fences, or trailing
// commentary. Extract locates the largest brace-balanced substring and parses
// it; Validate then enforces the structural invariants every persisted map
// must satisfy.
package mindmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned by Extract when the text contains no brace-balanced
// JSON object at all.
var ErrNoJSON = errors.New("mindmap: no JSON object found in response")

// Node is a single concept in the map. ID must be unique within the map.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// Edge connects two nodes. Source and Target must reference node IDs present
// in the same map.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Map is the structured mind-map graph produced by the mind-map pipeline.
type Map struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Extract parses an LLM response into a Map. It tolerates leading/trailing
// whitespace and text outside the JSON object by extracting the largest
// brace-balanced substring first. Returns ErrNoJSON when no candidate object
// exists, or a wrapped json error when the candidate does not parse.
//
// Extract does not validate the graph; callers run Validate on the result.
func Extract(raw string) (*Map, error) {
	candidate, ok := braceBalanced(raw)
	if !ok {
		return nil, ErrNoJSON
	}

	var m Map
	if err := json.Unmarshal([]byte(candidate), &m); err != nil {
		return nil, fmt.Errorf("mindmap: parse JSON: %w", err)
	}
	return &m, nil
}

// braceBalanced returns the largest substring of s that starts at the first
// '{' and ends at its matching '}'. String literals are honoured so braces
// inside node labels do not break the balance count.
func braceBalanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Validate checks the structural invariants of a mind map:
// every node has a non-empty id and label, node ids are unique, every edge
// has a unique non-empty id, and every edge endpoint resolves to a node in
// the same map. It returns a joined error listing all violations.
func Validate(m *Map) error {
	if m == nil {
		return errors.New("mindmap: nil map")
	}

	var errs []error
	if len(m.Nodes) == 0 {
		errs = append(errs, errors.New("mindmap: map has no nodes"))
	}

	nodeIDs := make(map[string]struct{}, len(m.Nodes))
	for i, n := range m.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("mindmap: node %d has empty id", i))
			continue
		}
		if n.Label == "" {
			errs = append(errs, fmt.Errorf("mindmap: node %q has empty label", n.ID))
		}
		if _, dup := nodeIDs[n.ID]; dup {
			errs = append(errs, fmt.Errorf("mindmap: duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(m.Edges))
	for i, e := range m.Edges {
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("mindmap: edge %d has empty id", i))
		} else {
			if _, dup := edgeIDs[e.ID]; dup {
				errs = append(errs, fmt.Errorf("mindmap: duplicate edge id %q", e.ID))
			}
			edgeIDs[e.ID] = struct{}{}
		}
		if _, ok := nodeIDs[e.Source]; !ok {
			errs = append(errs, fmt.Errorf("mindmap: edge %q source %q does not resolve to a node", e.ID, e.Source))
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			errs = append(errs, fmt.Errorf("mindmap: edge %q target %q does not resolve to a node", e.ID, e.Target))
		}
	}

	return errors.Join(errs...)
}

// RepairPrompt composes the prompt for the single repair re-invocation. It
// quotes the offending raw output and the failure reason and asks for a
// corrected JSON-only response.
func RepairPrompt(raw string, cause error) string {
	var b strings.Builder
	b.WriteString("The following text was supposed to be a JSON mind map with the shape ")
	b.WriteString(`{"nodes": [{"id", "label", "type"}], "edges": [{"id", "source", "target", "label"}]}`)
	b.WriteString(" but it is invalid.\n\nInvalid output:\n")
	b.WriteString(raw)
	b.WriteString("\n\nProblem: ")
	b.WriteString(cause.Error())
	b.WriteString("\n\nRespond with ONLY the corrected JSON object. No explanations, no markdown fences, no text before or after the JSON.")
	return b.String()
}
