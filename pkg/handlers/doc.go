/*
Package handlers implements the per-state logic of the diagnostic conversation.

Each workflow state that does work has exactly one Handler, selected through a Registry
keyed on the state. Handlers read the session, call collaborators (classifier, retrieval,
LLM, vendor directory) and describe their effect as a domain.SessionPatch; they never
write to the session themselves.

Text understanding is rule based: keyword and pattern extraction for crops, places,
seasons, growth stages, symptoms, preferences and disease names.
*/
package handlers
