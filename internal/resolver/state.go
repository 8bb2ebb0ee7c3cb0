package resolver

// Execution steps, checkpointed after each completed action. Fill and escrow
// creation are not idempotent on-chain, so a restart must resume from the
// last checkpoint instead of re-running them.
const (
	// StepPending: nothing has hit a chain yet.
	StepPending = "pending"

	// StepSourceFilled: the maker's funds sit in the source escrow.
	StepSourceFilled = "source_filled"

	// StepDestCreated: the resolver's funds sit in the destination escrow;
	// next the gate is asked for the secret.
	StepDestCreated = "destination_created"

	// StepDstWithdrawn: the destination escrow paid the receiver; the secret
	// is now public on the destination chain.
	StepDstWithdrawn = "destination_withdrawn"

	// StepCompleted: the source escrow paid the resolver. Done.
	StepCompleted = "completed"

	// StepFailed: the retry budget ran out. Recovery is manual or through
	// the escrows' own cancellation windows.
	StepFailed = "failed"
)

// TerminalSteps are not resumed at startup.
var TerminalSteps = []string{StepCompleted, StepFailed}
