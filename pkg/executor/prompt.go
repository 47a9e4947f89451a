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

package executor

import (
	"fmt"
	"strings"

	"github.com/arborun/arbor/pkg/router"
)

// buildSystemPrompt appends the autonomy directive spec.md §9 requires
// of every agent — act without waiting on a human, because the system
// (not the user) engages any children it selects — plus, when children
// exist, the fixed block listing them and their capability keywords.
// Omitting the autonomy directive for leaf agents is exactly the
// historical deadlock §9 describes: a leaf with no directive at all has
// no reason not to sit idle waiting for input that will never arrive.
func buildSystemPrompt(systemPrompt string, node router.Capability) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nAct autonomously: complete this task yourself without asking the user a " +
		"clarifying question or waiting for further input. If part of the task is better handled " +
		"by another agent, the system will engage that agent on your behalf when appropriate — you " +
		"do not request it and do not wait for it before producing your own output.")

	if len(node.Children) > 0 {
		b.WriteString("\n\nThe following agents may be engaged by the system to handle parts of this task:\n")
		for _, child := range node.Children {
			fmt.Fprintf(&b, "- %s: %s\n", child.AgentID, strings.Join(child.Keywords, ", "))
		}
	}
	return b.String()
}

// buildUserPrompt assembles the last historyWindow conversation entries,
// the parent's output (if this agent was delegated to), and the task.
func buildUserPrompt(history []string, parentOutput *string, task string, historyWindow int) string {
	var b strings.Builder

	if n := len(history); n > 0 {
		start := 0
		if n > historyWindow {
			start = n - historyWindow
		}
		b.WriteString("Conversation history:\n")
		for _, entry := range history[start:] {
			b.WriteString(entry)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if parentOutput != nil && *parentOutput != "" {
		b.WriteString("Parent agent output:\n")
		b.WriteString(*parentOutput)
		b.WriteString("\n\n")
	}

	b.WriteString("Task:\n")
	b.WriteString(task)
	return b.String()
}
