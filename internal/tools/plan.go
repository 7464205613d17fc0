package tools

import (
	"context"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
)

// StepOp is the op field of a Step.
type StepOp string

const (
	OpOpen   StepOp = "Open"
	OpSend   StepOp = "Send"
	OpNext   StepOp = "Next"
	OpFinish StepOp = "Finish"
	OpAbort  StepOp = "Abort"
)

// Step is one entry of a Plan.
type Step struct {
	Op           StepOp
	ToolName     string // only meaningful on Open
	InitialInput any
	HasInitial   bool
	Input        any
	HasInput     bool
	Reason       string // only meaningful on Abort
}

// Plan is an ordered list of Steps executed as a unit.
type Plan []Step

// Result is the outcome of a plan run: a single Done output if no
// Streaming occurred, or the ordered list of every Streaming output
// followed by the Done output if present.
type Result struct {
	Outputs []any
}

// Value returns the plan's result per rule 6: the sole value if there is
// exactly one, otherwise the full ordered slice.
func (r Result) Value() any {
	if len(r.Outputs) == 1 {
		return r.Outputs[0]
	}
	return r.Outputs
}

// RunPlan validates and executes plan against a fresh tool session,
// created via handlerFor (invoked once, at the plan's Open step, with the
// resolved tool name). Execution rules:
//
//  1. the first step must be Open;
//  2. Open may carry initial_input, treated as an immediate Send;
//  3. Send with missing/null input (and no initial_input) is rejected;
//  4. each Next step polls the session once: a Streaming output is
//     accumulated, Done closes the session, Error aborts the plan; a Next
//     step does not repeat until Done, so a plan carries one Next step per
//     expected output;
//  5. a plan ending with the session still open runs a final Next then
//     Finish;
//  6. the result shape follows Result.Value.
func RunPlan(ctx context.Context, reg *Registry, plan Plan, handlerFor func(toolName string) Handler) (Result, error) {
	if len(plan) == 0 {
		return Result{}, errs.New(errs.InvalidArgument, "plan must have at least one step")
	}
	if plan[0].Op != OpOpen {
		return Result{}, errs.New(errs.InvalidArgument, "plan must begin with Open")
	}

	var (
		sessionID ids.ToolSessionId
		opened    bool
		outputs   []any
		done      bool
		doneValue any
		hasDone   bool
	)

	abort := func(reason string) {
		if opened {
			_ = reg.Abort(ctx, sessionID, reason)
		}
	}

	for i, step := range plan {
		switch step.Op {
		case OpOpen:
			if opened {
				abort("plan may contain only one Open")
				return Result{}, errs.New(errs.InvalidArgument, "plan may contain only one Open")
			}
			h := handlerFor(step.ToolName)
			if h == nil {
				return Result{}, errs.Newf(errs.FunctionNotFound, "no handler for tool %q", step.ToolName)
			}
			id, err := reg.Open(ctx, step.ToolName, h)
			if err != nil {
				return Result{}, err
			}
			sessionID, opened = id, true

			if step.HasInitial {
				if err := reg.Send(ctx, sessionID, step.InitialInput); err != nil {
					abort(err.Error())
					return Result{}, err
				}
			}

		case OpSend:
			if !opened {
				return Result{}, errs.New(errs.InvalidArgument, "Send before Open")
			}
			if !step.HasInput || step.Input == nil {
				abort("Send requires non-null input")
				return Result{}, errs.New(errs.InvalidArgument, "Send requires non-null input; initial_input is only for Open")
			}
			if err := reg.Send(ctx, sessionID, step.Input); err != nil {
				abort(err.Error())
				return Result{}, err
			}

		case OpNext:
			if !opened {
				return Result{}, errs.New(errs.InvalidArgument, "Next before Open")
			}
			res, err := reg.Next(ctx, sessionID)
			if err != nil {
				abort(err.Error())
				return Result{}, err
			}
			switch res.Outcome {
			case NextStreaming:
				outputs = append(outputs, res.Output)
			case NextDone:
				done = true
				if res.Output != nil {
					doneValue, hasDone = res.Output, true
				}
			case NextError:
				abort(res.Failure)
				return Result{}, errs.Newf(errs.InvalidArgument, "tool session error: %s", res.Failure)
			}

		case OpFinish:
			if opened {
				if err := reg.Finish(ctx, sessionID); err != nil {
					return Result{}, err
				}
			}

		case OpAbort:
			if opened {
				if err := reg.Abort(ctx, sessionID, step.Reason); err != nil {
					return Result{}, err
				}
			}

		default:
			return Result{}, errs.Newf(errs.InvalidArgument, "unknown plan step op %q at index %d", step.Op, i)
		}
	}

	// Rule 5: if the plan ends with the session still open, run a final
	// Next then Finish.
	if opened {
		if state, ok := reg.State(sessionID); ok && state != StateClosed {
			if !done {
				res, err := reg.Next(ctx, sessionID)
				if err != nil {
					abort(err.Error())
					return Result{}, err
				}
				switch res.Outcome {
				case NextStreaming:
					outputs = append(outputs, res.Output)
				case NextDone:
					if res.Output != nil {
						doneValue, hasDone = res.Output, true
					}
				case NextError:
					abort(res.Failure)
					return Result{}, errs.Newf(errs.InvalidArgument, "tool session error: %s", res.Failure)
				}
			}
			_ = reg.Finish(ctx, sessionID)
		}
	}

	if hasDone {
		outputs = append(outputs, doneValue)
	}
	return Result{Outputs: outputs}, nil
}
