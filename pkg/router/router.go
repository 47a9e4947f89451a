// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package router implements the Capability Router (C4): given a task
// string and an agent's capability node, it decides which immediate
// children should be engaged. It is pure arithmetic over in-memory
// sets — no third-party library in the reference corpus offers a
// capability-matching primitive narrower or more apt than hand-written
// set overlap, so this package has no dependencies (see DESIGN.md).
package router

import (
	"sort"
	"strings"
)

// DefaultSelectionThreshold is the score children must exceed to be
// selected outright.
const DefaultSelectionThreshold = 0.0

// depthPenaltyFactor scales a child's depth_penalty = factor * depth.
const depthPenaltyFactor = 0.1

// Capability is the routing-relevant projection of a tree-cache node:
// its own keywords plus its immediate children (also Capabilities).
type Capability struct {
	AgentID  string
	Keywords []string
	Depth    int
	Children []Capability
}

// SelectChildren returns the agent_ids of agent's immediate children
// that should be engaged for task, per spec.md §4.4:
//   - score(child) = keyword_match(task, child.keywords) - 0.1*child.depth
//   - children with score > threshold are all selected
//   - if none qualify, the single highest-scoring child is selected only
//     when task contains at least one of its keywords; otherwise none
//
// Results are deterministic: ties are broken by lexicographic AgentID.
func SelectChildren(task string, agent Capability, threshold float64) []string {
	if len(agent.Children) == 0 {
		return nil
	}

	taskTokens := tokenize(task)

	type scored struct {
		id    string
		score float64
		hit   bool
	}

	candidates := make([]scored, 0, len(agent.Children))
	for _, child := range agent.Children {
		match := keywordMatch(taskTokens, child.Keywords)
		score := match - depthPenaltyFactor*float64(child.Depth)
		candidates = append(candidates, scored{id: child.AgentID, score: score, hit: match > 0})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	var selected []string
	for _, c := range candidates {
		if c.score > threshold {
			selected = append(selected, c.id)
		}
	}
	if len(selected) > 0 {
		return selected
	}

	best := candidates[0]
	if best.hit {
		return []string{best.id}
	}
	return nil
}

// keywordMatch is a normalized overlap of case-folded token sets: the
// fraction of childKeywords that appear as tokens in the task.
func keywordMatch(taskTokens map[string]bool, childKeywords []string) float64 {
	if len(childKeywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range childKeywords {
		if taskTokens[strings.ToLower(kw)] {
			hits++
		}
	}
	return float64(hits) / float64(len(childKeywords))
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
