package inspect

import (
	"regexp"
	"sort"

	"github.com/modalbot/backend/internal/catalog"
)

// stoplist holds call-like tokens that name accessors or config lookups, not
// the deriving function.
var stoplist = map[string]struct{}{
	"model":  {},
	"config": {},
	"type":   {},
	"get":    {},
	"text":   {},
	"format": {},
	"len":    {},
	"str":    {},
	"json":   {},
}

var (
	callPattern  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// classification is what the fallback extractor recovers from a raw
// expression string.
type classification struct {
	Kind        catalog.DerivationKind
	Name        string
	TargetTable string
}

// classifyExpression finds the first call-like token outside the stoplist
// and classifies it as a query, a tool, or unknown. Expressions with no
// usable call token stay unclassified.
func classifyExpression(expr string, toolNames map[string]struct{}) classification {
	for _, m := range callPattern.FindAllStringSubmatch(expr, -1) {
		name := m[1]
		if _, stopped := stoplist[name]; stopped {
			continue
		}
		if target, ok := catalog.QueryTargets[name]; ok {
			return classification{Kind: catalog.KindQuery, Name: name, TargetTable: target}
		}
		if _, ok := toolNames[name]; ok {
			return classification{Kind: catalog.KindTool, Name: name}
		}
		return classification{Kind: catalog.KindBuiltin, Name: name}
	}
	return classification{Kind: catalog.KindUnclassified}
}

// extractDependencies collects every identifier in the expression that names
// a known column of the same table, sorted for stable output.
func extractDependencies(expr string, columns []string) []string {
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, ident := range identPattern.FindAllString(expr, -1) {
		if _, ok := known[ident]; ok {
			seen[ident] = struct{}{}
		}
	}

	deps := make([]string, 0, len(seen))
	for d := range seen {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return deps
}

// detectIterator guesses how a view's rows are produced from its base by
// looking at which columns the view adds. Best effort; metadata alone
// carries no ground truth.
func detectIterator(ownColumns []string) catalog.IteratorKind {
	own := make(map[string]struct{}, len(ownColumns))
	for _, c := range ownColumns {
		own[c] = struct{}{}
	}
	has := func(names ...string) bool {
		for _, n := range names {
			if _, ok := own[n]; !ok {
				return false
			}
		}
		return true
	}

	switch {
	case has("frame_idx", "pos_frame", "frame"):
		return catalog.IteratorFrame
	case has("audio_chunk", "start_time_sec", "end_time_sec"):
		return catalog.IteratorAudio
	case has("heading", "page", "title") && has("pos"):
		return catalog.IteratorDocument
	case has("text", "pos"):
		return catalog.IteratorString
	default:
		return catalog.IteratorUnknown
	}
}
