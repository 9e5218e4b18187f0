/*
Package domain contains the core models of the Sasya diagnostic conversation engine.

It defines the workflow states, the persisted Session and the structured values
exchanged between handlers, the workflow controller and the orchestrator. The package
is pure: no I/O, no persistence and no external dependencies.

# Key Entities

  - WorkflowState: the closed set of conversation steps (intent capture, clarification,
    classification, prescription, constraint gathering, vendor recommendation, follow-up).
  - Session: the state bag of one diagnostic dialogue (profile, diagnosis, prescriptions,
    vendor choices, messages, activity log).
  - SessionPatch: an additive update produced by a handler and merged atomically.
  - HandlerResult: the outcome of one handler execution.
  - WorkflowDecision: the controller's choice of the next state and its actions.
  - OutputEvent: one element of the ordered stream emitted during a turn.
*/
package domain
