// Package lifecycle implements the nine-pair (plus one async-only)
// stage registry described in §4.4: a dynamic (message_type, stage)
// handler map that strategies and the stream processor invoke around
// distribution and per-message processing, either inline (blocking,
// errors propagate) or async (fire-and-forget, errors only logged).
package lifecycle

// Stage names one of the registry's invocation points. Nine of the ten
// roots below offer both an Async and an Inline variant; Distribute is
// async-only, since by the time distribution happens there is nothing
// left to block synchronously on.
type Stage string

const (
	StageImmediateAsync  Stage = "immediate.async"
	StageImmediateInline Stage = "immediate.inline"

	StagePreDistributeAsync  Stage = "pre_distribute.async"
	StagePreDistributeInline Stage = "pre_distribute.inline"
	StageDistributeAsync     Stage = "distribute.async"
	StagePostDistributeAsync Stage = "post_distribute.async"
	StagePostDistributeInline Stage = "post_distribute.inline"

	StagePreOutboxAsync  Stage = "pre_outbox.async"
	StagePreOutboxInline Stage = "pre_outbox.inline"
	StagePostOutboxAsync  Stage = "post_outbox.async"
	StagePostOutboxInline Stage = "post_outbox.inline"

	StagePreInboxAsync  Stage = "pre_inbox.async"
	StagePreInboxInline Stage = "pre_inbox.inline"
	StagePostInboxAsync  Stage = "post_inbox.async"
	StagePostInboxInline Stage = "post_inbox.inline"

	StagePrePerspectiveAsync  Stage = "pre_perspective.async"
	StagePrePerspectiveInline Stage = "pre_perspective.inline"
	StagePostPerspectiveAsync  Stage = "post_perspective.async"
	StagePostPerspectiveInline Stage = "post_perspective.inline"
)

// Source distinguishes which queue a message traveled through, carried
// on every InvocationContext per §4.4.
type Source string

const (
	SourceOutbox Source = "outbox"
	SourceInbox  Source = "inbox"
)
