package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/loopworks/agentcore/internal/types"
)

const defaultExecTimeout = 300 * time.Second

// ExecResult is the exec.run return value.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
}

func execRunDef() Def {
	return Def{
		Tool: types.Tool{
			Name:            "exec.run",
			Description:     "run a program with structured arguments, no shell interpolation",
			PhaseVisibility: map[types.Phase]bool{types.PhaseExecution: true},
			HandlerID:       "exec_run",
			SideEffects:     types.SideEffectExec,
		},
		Schema:  Schema{Required: []string{"program"}},
		Handler: handleExecRun,
	}
}

func handleExecRun(b *ToolBus, args map[string]any) (any, error) {
	program := args["program"].(string)
	var progArgs []string
	if raw, ok := args["args"].([]string); ok {
		progArgs = raw
	} else if raw, ok := args["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				progArgs = append(progArgs, s)
			}
		}
	}

	var accepted []int
	if raw, ok := args["accepted_exit_codes"].([]int); ok {
		accepted = raw
	} else if raw, ok := args["accepted_exit_codes"].([]any); ok {
		for _, v := range raw {
			switch n := v.(type) {
			case int:
				accepted = append(accepted, n)
			case float64:
				accepted = append(accepted, int(n))
			}
		}
	}
	allowFailure, _ := args["allow_failure"].(bool)

	ctx, cancel := context.WithTimeout(context.Background(), defaultExecTimeout)
	defer cancel()

	// #nosec — program and args are structured, never concatenated into a
	// shell string; Safety.ProgramAllowed is enforced by the ToolBus before
	// this handler runs.
	cmd := exec.CommandContext(ctx, program, progArgs...)
	cmd.Dir = b.RepoRoot()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec.run: %s: %w", program, runErr)
		}
	}

	success := exitCode == 0 || allowFailure || containsInt(accepted, exitCode)
	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Success:  success,
	}, nil
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
