// Command agentcore is the CLI entrypoint (§6): it builds a Context once
// and either runs one shot (args joined as the goal) or drops into an
// interactive REPL.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/loopworks/agentcore/internal/appctx"
	"github.com/loopworks/agentcore/internal/config"
	"github.com/loopworks/agentcore/internal/tracer"
	"github.com/loopworks/agentcore/internal/types"
)

const (
	exitSuccess           = 0
	exitUnreachableServer = 2
	exitPlanRejected      = 3
	exitSafetyViolation   = 4
	exitExecutionFailure  = 5
)

func main() {
	_ = godotenv.Load(".env")

	fs := pflag.NewFlagSet("agentcore", pflag.ContinueOnError)
	config.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(exitSuccess)
		}
		fmt.Fprintf(os.Stderr, "agentcore: %v\n", err)
		os.Exit(1)
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentcore: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(repoRoot, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentcore: %v\n", err)
		os.Exit(1)
	}

	args := fs.Args()
	subcommand, goalArgs := "", args
	if len(args) > 0 {
		switch args[0] {
		case "start", "config", "diag":
			subcommand = args[0]
			goalArgs = args[1:]
		}
	}

	switch subcommand {
	case "config":
		runConfigCommand(cfg)
		return
	case "diag":
		runDiagCommand(cfg)
		return
	}

	ctx, err := appctx.New(cfg, repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentcore: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	log.SetOutput(ctx.DebugLog)

	noColor := !isatty.IsTerminal(os.Stdout.Fd())
	console := tracer.NewConsoleSubscriber(os.Stdout, noColor)
	console.Attach(ctx.Bus)

	if subcommand == "start" || len(goalArgs) == 0 {
		runREPL(ctx, noColor)
		return
	}

	goal := strings.Join(goalArgs, " ")
	state := ctx.Orchestrator.Run(goal)
	printState(state, noColor)
	recordTurn(ctx, goal, state)
	os.Exit(exitCodeFor(state))
}

func runConfigCommand(cfg config.Config) {
	fmt.Printf("provider:         %s\n", cfg.Provider)
	fmt.Printf("model:            %s\n", cfg.Model)
	fmt.Printf("planner_model:    %s\n", cfg.PlannerModel)
	fmt.Printf("developer_model:  %s\n", cfg.DeveloperModel)
	fmt.Printf("reviewer_model:   %s\n", cfg.ReviewerModel)
	fmt.Printf("embed_model:      %s\n", cfg.EmbedModel)
	fmt.Printf("ollama.host:      %s\n", cfg.Ollama.Host)
	fmt.Printf("safety.allow:     %v\n", cfg.Safety.Allow)
	fmt.Printf("safety.deny:      %v\n", cfg.Safety.Deny)
	fmt.Printf("auto.max_cycles:  %d\n", cfg.Auto.MaxCycles)
	fmt.Printf("auto.dry_run:     %v\n", cfg.Auto.DryRun)
	fmt.Printf("retrieval.limit:  %d\n", cfg.Retrieval.Limit)
}

func runDiagCommand(cfg config.Config) {
	fmt.Printf("provider: %s\n", cfg.Provider)
	switch cfg.Provider {
	case "openai":
		fmt.Printf("host:  (cloud)\n")
	default:
		fmt.Printf("host:  %s\n", cfg.Ollama.Host)
	}
	fmt.Printf("model: %s\n", cfg.Model)
}

// runREPL reads goals from stdin until exit/Ctrl-D, printing each result
// and feeding it back into SessionMemory turn by turn.
func runREPL(ctx *appctx.Context, noColor bool) {
	banner := "agentcore — local coding agent  (exit/Ctrl-D to quit)"
	if noColor {
		fmt.Println(banner)
	} else {
		color.New(color.FgCyan, color.Bold).Println(banner)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       filepath.Join(ctx.StateDir, "history"),
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentcore: readline init: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		goal := strings.TrimSpace(line)
		if goal == "" {
			continue
		}
		if goal == "exit" || goal == "quit" {
			return
		}

		state := ctx.Orchestrator.Run(goal)
		printState(state, noColor)
		recordTurn(ctx, goal, state)
	}
}

func recordTurn(ctx *appctx.Context, goal string, state *types.AgentState) {
	if ctx.SessionMem == nil {
		return
	}
	_ = ctx.SessionMem.Append(tracer.Turn{Role: "user", Content: goal})
	reply := state.FinalAnswer
	if reply == "" {
		reply = state.HaltReason
	}
	_ = ctx.SessionMem.Append(tracer.Turn{Role: "assistant", Content: reply})
}

func printState(state *types.AgentState, noColor bool) {
	switch state.Phase {
	case types.PhaseDone:
		printBanner("done", color.FgGreen, noColor)
		if state.FinalAnswer != "" {
			fmt.Println(state.FinalAnswer)
		}
	case types.PhaseHalted:
		printBanner("halted: "+state.HaltReason, color.FgRed, noColor)
	default:
		printBanner(fmt.Sprintf("unexpected terminal phase %q", state.Phase), color.FgYellow, noColor)
	}
}

func printBanner(msg string, attr color.Attribute, noColor bool) {
	if noColor {
		fmt.Println(msg)
		return
	}
	color.New(attr, color.Bold).Println(msg)
}

// exitCodeFor classifies a halted AgentState's reason into §6's exit codes.
// The Orchestrator records HaltReason as free text rather than a typed
// code (§7 treats AgentState as the single owned value), so this is a
// substring classification over the small, fixed set of reasons halt()
// actually produces.
func exitCodeFor(state *types.AgentState) int {
	if state.Phase != types.PhaseHalted {
		return exitSuccess
	}
	reason := state.HaltReason
	switch {
	case strings.Contains(reason, "unreachable"), strings.Contains(reason, "connection refused"):
		return exitUnreachableServer
	case strings.Contains(reason, "rejected during intent classification"),
		strings.Contains(reason, "rejection limit"):
		return exitSafetyViolation
	case strings.Contains(reason, "planning failed"),
		strings.Contains(reason, "stagnation"),
		strings.Contains(reason, "clarification loop"):
		return exitPlanRejected
	case strings.Contains(reason, "repeated failures"),
		strings.Contains(reason, "repeat error limit"):
		return exitExecutionFailure
	default:
		return exitExecutionFailure
	}
}
