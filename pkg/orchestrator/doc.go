/*
Package orchestrator runs conversation turns.

A turn takes the session lock, loads (or creates) the session and then loops:

 1. run the handler of the current state under a timeout, sending progress heartbeats;
 2. merge its patch into a working copy and log the step;
 3. ask the workflow controller for the next state and announce it;
 4. continue while the handler did not ask for user input, up to a fixed chain bound.

The working copy is committed once at the end. Failed steps only add an activity
entry; invariant violations discard the working copy.
*/
package orchestrator
