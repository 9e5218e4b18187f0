/*
Package ports defines the driven ports (interfaces) of the Sasya engine.

These interfaces decouple the conversation core from storage backends and from the
independently deployed inference services, so each can be swapped for a synchronous
stub in tests.

# Key Interfaces

  - SessionStore: persists and loads Sessions by ID.
  - DistributedLocker: serializes turns for a session across replicas.
  - Classifier, Retriever, LLM, VendorLookup: collaborator call contracts.
  - ArtifactStore: keeps attention artifacts referenced by diagnoses.
  - EventSink: receives every emitted turn event (fan-out).
*/
package ports
