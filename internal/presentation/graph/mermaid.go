package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
)

// GraphOverlay contains session data to visualize on the graph.
type GraphOverlay struct {
	// Visited are states the session went through, taken from its activity log.
	Visited []domain.WorkflowState
	Current domain.WorkflowState
}

// loopBacks are edges that return to an earlier stage of the conversation. They are
// drawn dotted so the forward path stays readable.
var loopBacks = map[[2]domain.WorkflowState]bool{
	{domain.StateConstraintGathering, domain.StatePrescription}: true,
	{domain.StateFollowUp, domain.StateIntentCapture}:           true,
	{domain.StateFollowUp, domain.StateClarification}:           true,
	{domain.StateFollowUp, domain.StateClassification}:          true,
	{domain.StateFollowUp, domain.StatePrescription}:            true,
	{domain.StateFollowUp, domain.StateConstraintGathering}:     true,
	{domain.StateFollowUp, domain.StateVendorRecommendation}:    true,
	{domain.StateCompleted, domain.StateIntentCapture}:          true,
}

// GenerateMermaid renders a transition table as a Mermaid flowchart.
// States are drawn with semantic shapes:
// - initial and completed: ((Circle))
// - states that call an external service: [[Subroutine]]
// - states that wait for the farmer: [/Parallelogram/]
// - others: [Rectangle]
func GenerateMermaid(edges map[domain.WorkflowState][]domain.WorkflowState, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, st := range domain.States() {
		to, known := edges[st]
		if !known {
			continue
		}
		opener, closer := "[", "]"
		switch st {
		case domain.StateInitial, domain.StateCompleted:
			opener, closer = "((", "))"
		case domain.StateClassification, domain.StatePrescription, domain.StateVendorRecommendation:
			opener, closer = "[[", "]]"
		case domain.StateClarification, domain.StateConstraintGathering:
			opener, closer = "[/", "/]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", st, opener, st, closer)

		for _, next := range to {
			arrow := "-->"
			if loopBacks[[2]domain.WorkflowState{st, next}] {
				arrow = "-.->"
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", st, arrow, next)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on light fills in both themes.
		sb.WriteString("    classDef visited fill:#e8f5e9,stroke:#1b5e20,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[domain.WorkflowState]bool)
		for _, st := range overlay.Visited {
			if !st.Valid() || seen[st] || st == overlay.Current {
				continue
			}
			seen[st] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", st)
		}
		if overlay.Current.Valid() {
			fmt.Fprintf(&sb, "    class %s current;\n", overlay.Current)
		}
	}

	return sb.String()
}

// OverlayFor builds the overlay of a session.
func OverlayFor(s *domain.Session) *GraphOverlay {
	o := &GraphOverlay{Current: s.State}
	for _, a := range s.ActivityLog {
		o.Visited = append(o.Visited, a.State)
	}
	return o
}
