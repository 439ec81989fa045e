// Package appctx is the composition root (§2, §9): it builds every
// collaborator — Safety, the LLM tiers, the embedding index, retrieval,
// tools, the planner/executor, the Orchestrator, and the Tracer — and
// wires them together once, lifted out of a main() construction sequence
// so no collaborator lives behind a package-level global. A Context is
// built once and passed by reference.
package appctx

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loopworks/agentcore/internal/bus"
	"github.com/loopworks/agentcore/internal/config"
	"github.com/loopworks/agentcore/internal/diffgen"
	"github.com/loopworks/agentcore/internal/embedding"
	"github.com/loopworks/agentcore/internal/executor"
	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/orchestrator"
	"github.com/loopworks/agentcore/internal/planner"
	"github.com/loopworks/agentcore/internal/retrieval"
	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/tools"
	"github.com/loopworks/agentcore/internal/tracer"
)

// stateDirName is where every durable artifact (traces, session memory,
// the vector index, debug log) lives, relative to the repo root.
const stateDirName = ".agent"

// Context bundles every wired collaborator a CLI entrypoint needs.
type Context struct {
	RepoRoot string
	StateDir string
	Config   config.Config

	Bus          *bus.Bus
	Safety       *safety.Gate
	VectorStore  *embedding.VectorStore
	Index        *embedding.Index
	Retrieval    *retrieval.Controller
	Tools        *tools.Registry
	ToolBus      *tools.ToolBus
	DiffGen      *diffgen.Generator
	Planner      *planner.Planner
	Executor     *executor.Executor
	Classifier   *orchestrator.Classifier
	VCS          *orchestrator.VCS
	Orchestrator *orchestrator.Orchestrator
	Tracer       *tracer.Tracer
	SessionMem   *tracer.SessionMemory
	AnswerLLM    llm.Adapter

	DebugLog *os.File
}

// repoFileExister checks literal-filename candidates against the real
// filesystem, satisfying retrieval.FileExister.
type repoFileExister struct {
	repoRoot string
}

func (e repoFileExister) Exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(e.repoRoot, relPath))
	return err == nil
}

// New builds a fully wired Context for repoRoot from cfg. Every durable
// file (traces, session memory, vector index, debug log) lives under
// repoRoot/.agent.
func New(cfg config.Config, repoRoot string) (*Context, error) {
	cfg.ApplyToEnv()

	stateDir := filepath.Join(repoRoot, stateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("appctx: create state dir: %w", err)
	}

	debugLog, err := os.OpenFile(filepath.Join(stateDir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("appctx: open debug log: %w", err)
	}

	provider := llm.Provider(cfg.Provider)

	b := bus.New()

	gate := safety.New(safety.Config{
		RepoRoot:         repoRoot,
		Allow:            cfg.Safety.Allow,
		Deny:             cfg.Safety.Deny,
		ProgramAllowlist: cfg.Safety.ProgramAllowlist,
	})

	plannerLLM, err := llm.NewTier(provider, "PLANNER")
	if err != nil {
		debugLog.Close()
		return nil, fmt.Errorf("appctx: build planner adapter: %w", err)
	}
	developerLLM, err := llm.NewTier(provider, "DEVELOPER")
	if err != nil {
		debugLog.Close()
		return nil, fmt.Errorf("appctx: build developer adapter: %w", err)
	}
	reviewerLLM, err := llm.NewTier(provider, "REVIEWER")
	if err != nil {
		debugLog.Close()
		return nil, fmt.Errorf("appctx: build reviewer adapter: %w", err)
	}
	answerLLM, err := llm.NewTier(provider, "")
	if err != nil {
		debugLog.Close()
		return nil, fmt.Errorf("appctx: build default adapter: %w", err)
	}

	store, err := embedding.OpenVectorStore(filepath.Join(stateDir, "index.db"))
	if err != nil {
		debugLog.Close()
		return nil, fmt.Errorf("appctx: open vector store: %w", err)
	}

	index := embedding.New(embedding.Config{
		RepoRoot:     repoRoot,
		ChunkChars:   cfg.Retrieval.ChunkChars,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		BackendID:    string(provider),
	}, store, gate, developerLLM)

	vcs := orchestrator.NewVCS(repoRoot)

	retrievalCtl := retrieval.New(retrieval.Config{
		WorkspaceDirs: []string{"playground", "lib", "src", "app", "spec", "test"},
		LiteralMatch:  true,
	}, index, vcs, repoFileExister{repoRoot: repoRoot})

	registry := tools.NewRegistry()
	toolBus := tools.New(registry, gate, repoRoot, b)
	toolBus.SetDryRun(cfg.Auto.DryRun)

	gen := diffgen.New(developerLLM, 40, 2)
	plan := planner.New(plannerLLM, gate)
	exec := executor.New(toolBus, gen)
	classifier := orchestrator.NewClassifier(reviewerLLM)

	trc, err := tracer.New(filepath.Join(stateDir, "traces.jsonl"), filepath.Join(stateDir, "tasks"))
	if err != nil {
		debugLog.Close()
		store.Close()
		return nil, fmt.Errorf("appctx: open tracer: %w", err)
	}
	trc.Attach(b)

	sessionMem, err := tracer.Open(filepath.Join(stateDir, "session.jsonl"), filepath.Join(stateDir, "session.db"))
	if err != nil {
		debugLog.Close()
		store.Close()
		trc.Close()
		return nil, fmt.Errorf("appctx: open session memory: %w", err)
	}

	orch := orchestrator.New(classifier, plan, exec, toolBus, retrievalCtl, vcs, vcs, b, answerLLM, trc, orchestrator.Config{
		MaxCycles:      cfg.Auto.MaxCycles,
		RetrievalLimit: cfg.Retrieval.Limit,
	})

	return &Context{
		RepoRoot:     repoRoot,
		StateDir:     stateDir,
		Config:       cfg,
		Bus:          b,
		Safety:       gate,
		VectorStore:  store,
		Index:        index,
		Retrieval:    retrievalCtl,
		Tools:        registry,
		ToolBus:      toolBus,
		DiffGen:      gen,
		Planner:      plan,
		Executor:     exec,
		Classifier:   classifier,
		VCS:          vcs,
		Orchestrator: orch,
		Tracer:       trc,
		SessionMem:   sessionMem,
		AnswerLLM:    answerLLM,
		DebugLog:     debugLog,
	}, nil
}

// Close releases every collaborator holding an OS resource (files, the
// LevelDB handles backing the vector store, tracer, and session memory).
func (c *Context) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(c.SessionMem.Close())
	record(c.Tracer.Close())
	record(c.VectorStore.Close())
	if c.DebugLog != nil {
		record(c.DebugLog.Close())
	}
	return firstErr
}
