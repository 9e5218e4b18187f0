// Package validator checks the workflow transition table, and the paths sessions
// took through it, for consistency.
package validator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
)

// ValidateGraph checks for broken links, states without transitions and states
// unreachable from start.
func ValidateGraph(edges map[domain.WorkflowState][]domain.WorkflowState, start domain.WorkflowState) error {
	var problems []string

	if _, ok := edges[start]; !ok {
		return fmt.Errorf("start state '%s' has no transitions", start)
	}

	visited := make(map[domain.WorkflowState]bool)
	queue := []domain.WorkflowState{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		targets, ok := edges[current]
		if !ok {
			problems = append(problems, fmt.Sprintf("state '%s' has no transitions", current))
			continue
		}
		for _, target := range targets {
			if !target.Valid() {
				problems = append(problems, fmt.Sprintf("broken link '%s' -> '%s'", current, target))
				continue
			}
			if !visited[target] {
				queue = append(queue, target)
			}
		}
	}

	for _, st := range domain.States() {
		if !visited[st] {
			problems = append(problems, fmt.Sprintf("state '%s' is unreachable from '%s'", st, start))
		}
	}
	for from := range edges {
		if !from.Valid() {
			problems = append(problems, fmt.Sprintf("unknown state '%s' in table", from))
		}
	}

	return joinProblems(problems)
}

// ValidatePath checks that consecutive states of a session's activity log follow the
// table. Staying in the same state is always allowed.
func ValidatePath(edges map[domain.WorkflowState][]domain.WorkflowState, log []domain.ActivityEntry) error {
	var problems []string
	for i := 1; i < len(log); i++ {
		from, to := log[i-1].State, log[i].State
		if from == to {
			continue
		}
		if !slices.Contains(edges[from], to) {
			problems = append(problems, fmt.Sprintf("entry %d: illegal move '%s' -> '%s'", i, from, to))
		}
	}
	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("found %d errors:\n- %s", len(problems), strings.Join(problems, "\n- "))
}
