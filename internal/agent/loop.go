package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/odgrid/internal/grid"
	"github.com/leapstack-labs/odgrid/internal/llm"
)

// Loop bounds and pacing.
const (
	defaultMaxSteps   = 10
	historyWindow     = 16
	trimThreshold     = 25
	trimKeep          = 12
	settleTimeout     = 3 * time.Second
	settlePoll        = 200 * time.Millisecond
	legibilityPause   = 400 * time.Millisecond
	interBlockPause   = 150 * time.Millisecond
	wrapUpWarningLeft = 3
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:js|javascript)?[ \t]*\n(.*?)```")
	fnNameRe      = regexp.MustCompile(`(\w+)\s*\(`)
)

// Decision is an approver's verdict on a step's code blocks.
type Decision int

const (
	// RunAll executes every block.
	RunAll Decision = iota
	// RunSelected executes only the chosen block indices.
	RunSelected
	// Skip executes nothing and ends the run.
	Skip
)

// Approver is consulted before executing blocks when auto-execute is
// off. The returned indices matter only for RunSelected.
type Approver interface {
	Approve(blocks []string) (Decision, []int)
}

// Events receives the user-visible side of a run.
type Events interface {
	AssistantMessage(text string)
}

// Loop runs the bounded multi-step conversation: prompt the model,
// execute its code blocks, observe the resulting state, feed it back,
// repeat until the model answers in prose or the round limit hits.
type Loop struct {
	session      *grid.Session
	interp       *Interpreter
	client       llm.ChatClient
	approver     Approver // nil means auto-execute
	events       Events
	logger       *slog.Logger
	customPrompt string
	maxSteps     int

	sleep func(time.Duration)

	mu      sync.Mutex
	running bool
	history []llm.Message
}

// NewLoop wires a loop. approver and events may be nil; logger may be
// nil.
func NewLoop(session *grid.Session, interp *Interpreter, client llm.ChatClient, approver Approver, events Events, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		session:  session,
		interp:   interp,
		client:   client,
		approver: approver,
		events:   events,
		logger:   logger,
		maxSteps: defaultMaxSteps,
		sleep:    time.Sleep,
	}
}

// SetCustomPrompt appends user instructions to every system prompt.
func (l *Loop) SetCustomPrompt(p string) { l.customPrompt = p }

// SetMaxSteps overrides the per-run step budget.
func (l *Loop) SetMaxSteps(n int) {
	if n > 0 {
		l.maxSteps = n
	}
}

// History returns a copy of the persistent conversation.
func (l *Loop) History() []llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]llm.Message, len(l.history))
	copy(out, l.history)
	return out
}

// ClearHistory forgets the conversation.
func (l *Loop) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = nil
}

func (l *Loop) emit(text string) {
	l.mu.Lock()
	l.history = append(l.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	l.mu.Unlock()
	if l.events != nil {
		l.events.AssistantMessage(text)
	}
}

// Run processes one user message to completion. Only one run may be
// in flight; cancel via ctx to abort mid-run.
func (l *Loop) Run(ctx context.Context, userMessage string) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("a request is already being processed")
	}
	l.running = true
	l.history = append(l.history, llm.Message{Role: llm.RoleUser, Content: userMessage})
	recent := l.history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	window := make([]llm.Message, len(recent))
	copy(window, recent)
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	snap := TakeSnapshot(l.session)
	msgs := append([]llm.Message{{Role: llm.RoleSystem, Content: snap.SystemPrompt(l.customPrompt)}}, window...)

	var actionHistory []string

	for step := 0; step < l.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Keep the window bounded within a run: system plus the tail.
		if len(msgs) > trimThreshold {
			msgs = append([]llm.Message{msgs[0]}, msgs[len(msgs)-trimKeep:]...)
		}

		response, err := l.client.Chat(ctx, msgs)
		if err != nil {
			return err
		}
		if response == "" {
			return nil
		}

		blocks := extractBlocks(response)

		if len(blocks) > 0 && l.approver != nil {
			decision, selected := l.approver.Approve(blocks)
			switch decision {
			case Skip:
				l.emit(response)
				return nil
			case RunSelected:
				var chosen []string
				for _, i := range selected {
					if i >= 0 && i < len(blocks) {
						chosen = append(chosen, blocks[i])
					}
				}
				if len(chosen) == 0 {
					l.emit(response)
					return nil
				}
				blocks = chosen
			}
		}

		actionHistory = append(actionHistory, strings.Join(trimAll(blocks), ";"))

		prevSeq := l.session.RenderSeq()
		var (
			allErrors   []string
			analysisOut []string
			mutated     bool
			analyzed    bool
		)
		for i, block := range blocks {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res := l.interp.ExecuteBlock(ctx, block)
			allErrors = append(allErrors, res.Errors...)
			analysisOut = append(analysisOut, res.Analysis...)
			mutated = mutated || res.Mutated
			analyzed = analyzed || len(res.Analysis) > 0
			if i < len(blocks)-1 {
				l.sleep(interBlockPause)
			}
		}

		stepTag := l.stepTag(step)
		errorFeedback := ""
		if len(allErrors) > 0 {
			errorFeedback = "\n\nERRORS from your actions:\n- " + strings.Join(allErrors, "\n- ") +
				"\nFix these errors - try a DIFFERENT approach (different entity, different field, different method)."
		}
		analysisFeedback := ""
		if len(analysisOut) > 0 {
			analysisFeedback = "\n\nAnalysis result:\n" + strings.Join(analysisOut, "\n\n")
		}
		loopWarning := detectLoop(actionHistory)

		switch {
		case mutated:
			l.emit(response)
			l.waitForRender(ctx, prevSeq)
			l.sleep(legibilityPause)

			newSnap := TakeSnapshot(l.session)
			msgs[0] = llm.Message{Role: llm.RoleSystem, Content: newSnap.SystemPrompt(l.customPrompt)}
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: response},
				llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("%s [%s%s%s%s]\nNow analyze what you see and continue.",
					stepTag, newSnap.StateSummary(), analysisFeedback, errorFeedback, loopWarning)},
			)

		case len(allErrors) > 0 && !analyzed:
			l.emit(response)
			l.sleep(legibilityPause)
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: response},
				llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("%s [%s%s]\nFix the issue - try a DIFFERENT approach.",
					stepTag, strings.TrimSpace(analysisFeedback+errorFeedback), loopWarning)},
			)

		case analyzed && len(analysisOut) > 0:
			l.emit(response)
			l.sleep(legibilityPause)
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: response},
				llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("%s [%s%s%s]\nUse these results to continue answering the user's question. Take action - load an entity, apply filters, etc.",
					stepTag, strings.TrimSpace(analysisFeedback), errorFeedback, loopWarning)},
			)

		default:
			// Prose answer, or nothing actionable: the run is done.
			l.emit(response)
			return nil
		}
	}
	return nil
}

func (l *Loop) stepTag(step int) string {
	left := l.maxSteps - step - 1
	if left <= wrapUpWarningLeft {
		return fmt.Sprintf("[Step %d of %d - %d steps left, WRAP UP soon]", step+1, l.maxSteps, left)
	}
	return fmt.Sprintf("[Step %d of %d]", step+1, l.maxSteps)
}

// waitForRender polls the repaint counter until it moves past prevSeq
// or the settle timeout passes.
func (l *Loop) waitForRender(ctx context.Context, prevSeq uint64) {
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		if l.session.RenderSeq() != prevSeq {
			return
		}
		l.sleep(settlePoll)
	}
}

func extractBlocks(response string) []string {
	var blocks []string
	for _, m := range fencedBlockRe.FindAllStringSubmatch(response, -1) {
		blocks = append(blocks, m[1])
	}
	return blocks
}

func trimAll(blocks []string) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = strings.TrimSpace(b)
	}
	return out
}

// detectLoop warns when the last three steps repeat: identical action
// text, or the same function-name sequence with different arguments.
func detectLoop(history []string) string {
	if len(history) < 3 {
		return ""
	}
	last3 := history[len(history)-3:]
	if last3[0] == last3[1] && last3[1] == last3[2] {
		return "\n\nWARNING: You are repeating the same action 3 times. STOP this approach. Either try something completely different or tell the user what you found so far."
	}

	pattern := func(s string) string {
		var names []string
		for _, m := range fnNameRe.FindAllStringSubmatch(s, -1) {
			names = append(names, m[1])
		}
		return strings.Join(names, ",")
	}
	p0, p1, p2 := pattern(last3[0]), pattern(last3[1]), pattern(last3[2])
	if p0 != "" && p0 == p1 && p1 == p2 {
		return "\n\nWARNING: You keep calling the same functions repeatedly. Try a different approach or present your findings to the user."
	}
	return ""
}
