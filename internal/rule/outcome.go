package rule

import "errors"

// ErrFatalDataGap marks a gap that additional loading cannot resolve. It
// is terminal for the security's monitoring and must reach the supervisor.
var ErrFatalDataGap = errors.New("rule: fatal data gap")

// Outcome is the tri-state evaluation result. Suspended replaces the
// throw-to-retry idiom: a rule lacking data reports Suspended instead of
// blocking, and the engine treats it as "currently false, retry later".
type Outcome uint8

const (
	OutcomeFail Outcome = iota
	OutcomePass
	OutcomeSuspended
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Verdict carries the outcome and, for fatal verdicts, the cause.
type Verdict struct {
	Outcome Outcome
	Cause   error
}

// Pass is the affirmative verdict.
func Pass() Verdict { return Verdict{Outcome: OutcomePass} }

// Fail is the ordinary negative verdict.
func Fail() Verdict { return Verdict{Outcome: OutcomeFail} }

// Suspended reports that a data load is pending.
func Suspended() Verdict { return Verdict{Outcome: OutcomeSuspended} }

// Fatal reports an unresolvable condition.
func Fatal(cause error) Verdict {
	if cause == nil {
		cause = ErrFatalDataGap
	}
	return Verdict{Outcome: OutcomeFatal, Cause: cause}
}
