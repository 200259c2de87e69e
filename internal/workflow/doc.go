// Package workflow advances training runs through the configured pipeline
// stages.
//
// The Manager polls the record store on a fixed interval, reclaims stale
// claims via heartbeats, and dispatches each due record through the stage
// executor as an independent goroutine. A process-local in-flight set is the
// only duplicate-dispatch guard: a record enters the set before its goroutine
// launches and leaves when the dispatch returns, so two back-to-back poll
// cycles can never run the same record twice. The set is never persisted; a
// restart starts empty and relies on phase preconditions and the stale-claim
// reclaim for correctness.
//
// The workflow runs two lanes: acquisition (pending_dataset) and processing
// (pending_training, pending_evaluation). Each lane polls independently, so
// dataset downloads for run B proceed while run A trains. The processing lane
// additionally reclaims records whose heartbeat went stale, returning dead
// claims to their pending phase.
package workflow
