// Package replyflow implements a rule-evaluation and drip-scheduling engine
// for automated messaging consoles.
//
// # Architecture
//
// Inbound message events flow through a fixed pipeline:
//
//	┌─────────────────────────────────────┐
//	│             Engine                  │  Lifecycle, subscription,
//	│   (subscribe, evaluate, cancel)     │  metric accounting
//	└─────────────────────────────────────┘
//	           ↓ evaluates with
//	┌─────────────────────────────────────┐
//	│  Matcher → Resolver → Debouncer     │  Trigger matching,
//	│        → Scheduler → Sequencer      │  eligibility, rate gating,
//	└─────────────────────────────────────┘  delayed dispatch, drips
//	           ↓ hands off to
//	┌─────────────────────────────────────┐
//	│          Dispatch Sink              │  JetStream work queue the
//	│      (durable delivery jobs)        │  sending layer consumes
//	└─────────────────────────────────────┘
//
// Two event paths exist. Direct messages run the full pipeline: every active
// rule whose window contains the trigger instant is matched against the
// message text, the sender is checked against the rule's recipient scope, a
// per-(rule, sender) gap debouncer suppresses rapid re-fires, and the
// scheduler enqueues the delayed primary job plus a nurturing session whose
// step offsets are all anchored at the trigger time. Group messages take the
// short moderation path: the group's rule set selects one reply template by
// sender role and the job is enqueued immediately.
//
// # State
//
// All durable state lives in JetStream: KV buckets hold rules, debounce
// watermarks, nurturing sessions, and cancellation tombstones; work-queue
// streams carry dispatch jobs and drip-step timers. Engine instances hold no
// state a restart can lose, so any instance can pick up any timer.
//
// # Boundaries
//
// The engine ends at the dispatch sink. Message transport, delivery receipts,
// and retry-on-send belong to the consumer of the dispatch stream, not here.
package replyflow
