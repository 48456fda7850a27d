package graph

import (
	"fmt"
	"sort"
	"strings"
)

// SelectionMethod picks which sampler upstream of a sink supplies the
// sampler-scoped metadata.
type SelectionMethod string

const (
	Farthest SelectionMethod = "Farthest"
	Nearest  SelectionMethod = "Nearest"
	ByNodeID SelectionMethod = "By node ID"
)

// SelectionMethods lists the accepted methods, default first.
var SelectionMethods = []SelectionMethod{Farthest, Nearest, ByNodeID}

// ParseSelectionMethod accepts a method name case-insensitively. The empty
// string selects Farthest.
func ParseSelectionMethod(s string) (SelectionMethod, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Farthest, nil
	}
	for _, m := range SelectionMethods {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	switch strings.ToLower(s) {
	case "id", "node", "explicit", "by-node-id", "by_node_id":
		return ByNodeID, nil
	}
	return "", fmt.Errorf("unknown sampler selection method %q", s)
}

// FindSampler returns the sampler node chosen from tree under method.
//
// Nearest and Farthest consider every traced node whose class type satisfies
// isSampler; ties go to the node discovered first. ByNodeID resolves
// explicitID within the tree and accepts it only if it is a sampler, with no
// fallback to the distance-based methods.
func FindSampler(tree *TraceTree, method SelectionMethod, explicitID string, isSampler func(classType string) bool) (string, bool) {
	if tree.Len() == 0 || isSampler == nil {
		return "", false
	}

	if method == ByNodeID {
		id, ok := Resolve(explicitID, tree)
		if !ok {
			return "", false
		}
		hop, _ := tree.Get(id)
		if !isSampler(hop.ClassType) {
			return "", false
		}
		return id, true
	}

	ids := tree.IDs()
	sort.SliceStable(ids, func(i, j int) bool {
		di, _ := tree.Get(ids[i])
		dj, _ := tree.Get(ids[j])
		if method == Farthest {
			return di.Distance > dj.Distance
		}
		return di.Distance < dj.Distance
	})
	for _, id := range ids {
		hop, _ := tree.Get(id)
		if isSampler(hop.ClassType) {
			return id, true
		}
	}
	return "", false
}
