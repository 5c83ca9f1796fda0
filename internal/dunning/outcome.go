package dunning

// Outcome is the terminal result of one engine evaluation.
type Outcome string

const (
	OutcomeBillingAttemptNotReady    Outcome = "BILLING_ATTEMPT_NOT_READY"
	OutcomeBillingCycleAlreadyBilled Outcome = "BILLING_CYCLE_ALREADY_BILLED"
	OutcomeContractInTerminalStatus  Outcome = "CONTRACT_IN_TERMINAL_STATUS"
	OutcomeExpectedDateInFuture      Outcome = "EXPECTED_DATE_IN_FUTURE"
	OutcomeRetryDunning              Outcome = "RETRY_DUNNING"
	OutcomePenultimateAttemptDunning Outcome = "PENULTIMATE_ATTEMPT_DUNNING"
	OutcomeFinalAttemptDunning       Outcome = "FINAL_ATTEMPT_DUNNING"
)

func (o Outcome) String() string { return string(o) }

// Variant selects the failure domain an engine handles.
type Variant string

const (
	VariantPayment   Variant = "payment"
	VariantInventory Variant = "inventory"
)

func (v Variant) String() string { return string(v) }

// ClaimMode selects how concurrent evaluations of one tracker are reconciled.
type ClaimMode string

const (
	// ClaimModeFindOrCreate reads the tracker and acts; two concurrent
	// evaluations may both run the same action.
	ClaimModeFindOrCreate ClaimMode = "find_or_create"
	// ClaimModeAtomic claims the attempt count with a conditional update
	// before any action runs.
	ClaimModeAtomic ClaimMode = "atomic"
)

func (m ClaimMode) IsValid() bool {
	return m == ClaimModeFindOrCreate || m == ClaimModeAtomic
}
