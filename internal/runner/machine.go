// internal/runner/machine.go
package runner

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// phase is the state of a single scenario execution.
type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phasePassed
	phaseFailed
	phaseCancelled
	phaseErrored
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseRunning:
		return "running"
	case phasePassed:
		return "passed"
	case phaseFailed:
		return "failed"
	case phaseCancelled:
		return "cancelled"
	case phaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p phase) terminal() bool { return p >= phasePassed }

// machine tracks Idle -> Running(i) -> {Passed, Failed(i), Cancelled(i), Errored(i)}
// and fills in the ExecutionResult as it goes. A machine is used for exactly
// one Run call; invalid transitions are programming errors and panic.
type machine struct {
	phase  phase
	step   int
	result *schemas.ExecutionResult
}

func newMachine(sc *schemas.Scenario, now time.Time) *machine {
	steps := make([]schemas.StepResult, len(sc.Steps))
	for i, s := range sc.Steps {
		steps[i] = schemas.StepResult{Index: i, Description: s.Describe(), Status: schemas.StatusSkipped}
	}
	return &machine{
		phase: phaseIdle,
		step:  -1,
		result: &schemas.ExecutionResult{
			ID:           uuid.NewString(),
			ScenarioName: sc.Name,
			Source:       sc.Source,
			Steps:        steps,
			StartedAt:    now,
		},
	}
}

func (m *machine) mustBe(want phase, op string) {
	if m.phase != want {
		panic(fmt.Sprintf("runner: %s not allowed in phase %s", op, m.phase))
	}
}

// begin enters Running(i). Steps must be started strictly in order.
func (m *machine) begin(i int) {
	if m.phase == phaseIdle {
		if i != 0 {
			panic(fmt.Sprintf("runner: first step must be 0, got %d", i))
		}
		m.phase = phaseRunning
		m.step = 0
		return
	}
	m.mustBe(phaseRunning, "begin")
	if i != m.step+1 {
		panic(fmt.Sprintf("runner: step %d started after step %d", i, m.step))
	}
	m.step = i
}

// stepDone records the outcome of the running step. A nil err keeps the
// machine running; any error moves it to a terminal phase.
func (m *machine) stepDone(d time.Duration, err error) {
	m.mustBe(phaseRunning, "stepDone")
	sr := &m.result.Steps[m.step]
	sr.Duration = d

	if err == nil {
		sr.Status = schemas.StatusPassed
		return
	}

	status, kind := classify(err)
	sr.Status = status
	sr.Message = err.Error()
	if status == schemas.StatusErrored {
		m.phase = phaseErrored
	} else {
		m.phase = phaseFailed
	}
	m.fail(status, kind, err.Error())
}

// cancel stops the scenario before step i runs.
func (m *machine) cancel(i int, cause error) {
	if m.phase != phaseIdle {
		m.mustBe(phaseRunning, "cancel")
	}
	m.step = i
	m.phase = phaseCancelled
	m.fail(schemas.StatusCancelled, schemas.FailureCancelled, fmt.Sprintf("cancelled before step %d: %v", i, cause))
}

// complete moves a machine whose every step passed to Passed.
func (m *machine) complete() {
	m.mustBe(phaseRunning, "complete")
	if m.step != len(m.result.Steps)-1 {
		panic(fmt.Sprintf("runner: complete after step %d of %d", m.step, len(m.result.Steps)))
	}
	m.phase = phasePassed
	m.result.Status = schemas.StatusPassed
	m.result.Passed = true
}

func (m *machine) fail(status schemas.Status, kind schemas.FailureKind, msg string) {
	idx := m.step
	m.result.Status = status
	m.result.Passed = false
	m.result.FailedStepIndex = &idx
	m.result.FailureKind = kind
	m.result.FailureMessage = msg
}

// finish stamps the total duration. The machine must be terminal.
func (m *machine) finish(d time.Duration) *schemas.ExecutionResult {
	if !m.phase.terminal() {
		panic(fmt.Sprintf("runner: finish in non-terminal phase %s", m.phase))
	}
	m.result.Duration = d
	return m.result
}
