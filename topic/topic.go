// Package topic implements TopicPath: the immutable, network-qualified
// hierarchical path used to address services and actions/events on the bus.
package topic

import (
	"fmt"
	"strings"
)

// SegmentKind classifies a single path segment.
type SegmentKind int

const (
	// KindLiteral is an exact-match segment, e.g. "math" or "added".
	KindLiteral SegmentKind = iota
	// KindParam is a template parameter, e.g. "{service_path}". Only legal
	// in handler/subscription registration patterns.
	KindParam
	// KindWildcard matches exactly one segment ("*"). Only legal in patterns.
	KindWildcard
	// KindMultiWildcard matches one or more trailing segments (">"). Only
	// legal as the final segment of a pattern.
	KindMultiWildcard
)

const (
	wildcardSegment      = "*"
	multiWildcardSegment = ">"
)

// ParseError describes why a topic string failed to parse.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("topic: invalid path %q: %s", e.Input, e.Reason)
}

// Path is an immutable, network-qualified hierarchical path. The first
// segment is the service path; any remaining segments form the action path.
type Path struct {
	networkID string
	segments  []string
}

// Parse accepts "network:service/a/b" or "service/a/b" (in which case
// defaultNetworkID is used). It rejects empty input, a stray ':', empty
// segments, and ">" used anywhere but the final segment.
func Parse(input, defaultNetworkID string) (Path, error) {
	if input == "" {
		return Path{}, &ParseError{input, "empty input"}
	}

	networkID := defaultNetworkID
	rest := input

	if idx := strings.Index(input, ":"); idx >= 0 {
		if strings.Contains(input[idx+1:], ":") {
			return Path{}, &ParseError{input, "more than one ':' separator"}
		}
		networkID = input[:idx]
		rest = input[idx+1:]
		if networkID == "" {
			return Path{}, &ParseError{input, "empty network id before ':'"}
		}
	}

	if networkID == "" {
		return Path{}, &ParseError{input, "no network id available"}
	}
	if rest == "" {
		return Path{}, &ParseError{input, "no segments after network id"}
	}

	segments := strings.Split(rest, "/")
	if err := validateSegments(input, segments); err != nil {
		return Path{}, err
	}

	return Path{networkID: networkID, segments: segments}, nil
}

func validateSegments(input string, segments []string) error {
	if len(segments) == 0 {
		return &ParseError{input, "no segments"}
	}
	for i, seg := range segments {
		if seg == "" {
			return &ParseError{input, "empty segment"}
		}
		if seg == multiWildcardSegment && i != len(segments)-1 {
			return &ParseError{input, "'>' must be the final segment"}
		}
	}
	return nil
}

// NewService builds a bare service topic (network_id + service_path).
func NewService(networkID, servicePath string) Path {
	return Path{networkID: networkID, segments: []string{servicePath}}
}

// NewActionTopic appends an action segment to a service topic.
func (p Path) NewActionTopic(actionName string) Path {
	return p.append(actionName)
}

// NewEventTopic appends an event segment to a service topic.
func (p Path) NewEventTopic(eventName string) Path {
	return p.append(eventName)
}

// Join appends every "/"-separated segment of relative (which may itself
// be a multi-segment action pattern, e.g. "services/{service_path}/state")
// to p, as used by LifecycleContext.RegisterAction (spec.md §6).
func (p Path) Join(relative string) Path {
	out := p
	for _, seg := range strings.Split(relative, "/") {
		out = out.append(seg)
	}
	return out
}

func (p Path) append(seg string) Path {
	segments := make([]string, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)
	segments = append(segments, seg)
	return Path{networkID: p.networkID, segments: segments}
}

// NetworkID returns the network qualifier.
func (p Path) NetworkID() string { return p.networkID }

// Segments returns the full ordered segment list.
func (p Path) Segments() []string { return append([]string(nil), p.segments...) }

// ServicePath returns the first segment.
func (p Path) ServicePath() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// ActionPath returns the remaining segments after the service path.
func (p Path) ActionPath() []string {
	if len(p.segments) <= 1 {
		return nil
	}
	return append([]string(nil), p.segments[1:]...)
}

// ServiceTopic returns the service-only topic (network_id + service_path).
func (p Path) ServiceTopic() Path {
	return NewService(p.networkID, p.ServicePath())
}

// AsString renders the canonical form "network_id:service_path/seg2/...".
func (p Path) AsString() string {
	return p.networkID + ":" + strings.Join(p.segments, "/")
}

func (p Path) String() string { return p.AsString() }

// IsZero reports whether p is the zero value (not a parsed/constructed path).
func (p Path) IsZero() bool {
	return p.networkID == "" && len(p.segments) == 0
}

// MatchKey returns the segment sequence used to key trie lookups: the
// network id followed by the path segments. Matching semantics (spec.md
// §4.1) require network_id equality in addition to segment matching, so
// the network id is folded in as a leading literal segment wherever a
// PathTrie is used to store or match topics.
func (p Path) MatchKey() []string {
	key := make([]string, 0, len(p.segments)+1)
	key = append(key, p.networkID)
	key = append(key, p.segments...)
	return key
}

// ValidateConcrete rejects patterns containing template parameters or
// wildcards; concrete request/publish paths must satisfy this.
func (p Path) ValidateConcrete() error {
	for _, seg := range p.segments {
		switch SegmentKindOf(seg) {
		case KindParam, KindWildcard, KindMultiWildcard:
			return &ParseError{p.AsString(), fmt.Sprintf("segment %q not allowed in a concrete topic", seg)}
		}
	}
	return nil
}

// SegmentKindOf classifies a single raw segment string.
func SegmentKindOf(seg string) SegmentKind {
	switch {
	case seg == wildcardSegment:
		return KindWildcard
	case seg == multiWildcardSegment:
		return KindMultiWildcard
	case len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}':
		return KindParam
	default:
		return KindLiteral
	}
}

// ParamName extracts the name out of a "{name}" segment. Callers must check
// SegmentKindOf first.
func ParamName(seg string) string {
	return strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
}
