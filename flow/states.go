package flow

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// maxStrikes is how many consecutive unusable inputs a
// parse-the-answer state tolerates before giving up on the flow.
const maxStrikes = 4

// checkAnswerTries is how many wrong guesses CheckAnswer allows
// before moving on.
const checkAnswerTries = 3

// dummyHandler accepts any input verbatim.  Useful as a structural
// placeholder while authoring.
type dummyHandler struct{}

func (h *dummyHandler) Automatic(w *Workflow, s *State) bool { return false }

func (h *dummyHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	if err := w.executeNotify(ctx, s, trimmed(input)); err != nil {
		return err
	}
	return w.Accept(ctx, s, trimmed(input))
}

// transientHandler is an automatic pass-through: its execute message
// runs for its side effects (directives) and the flow moves on
// without user input.
type transientHandler struct{}

func (h *transientHandler) Automatic(w *Workflow, s *State) bool { return true }

func (h *transientHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	if err := w.executeNotify(ctx, s, input); err != nil {
		return err
	}
	w.Effects = append(w.Effects, s.Name)
	return w.Accept(ctx, s, input)
}

// qaHandler asks a question and stores the free-text answer.
type qaHandler struct{}

func (h *qaHandler) Automatic(w *Workflow, s *State) bool { return false }

func (h *qaHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	in := trimmed(input)
	if in == "" && !s.IsFinal {
		return w.Reject(ctx, s, "I didn't catch that.")
	}
	if err := w.executeNotify(ctx, s, in); err != nil {
		return err
	}
	return w.Accept(ctx, s, in)
}

// yesNoHandler parses the input as yes or no and transitions on
// "yes"/"no".
type yesNoHandler struct{}

func (h *yesNoHandler) Automatic(w *Workflow, s *State) bool { return false }

func (h *yesNoHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	var answer string
	switch {
	case normalizeYes(input):
		answer = "yes"
	case normalizeNo(input):
		answer = "no"
	default:
		s.Strikes++
		if maxStrikes <= s.Strikes {
			return w.abandon(ctx, s, "Let's leave it here.")
		}
		return w.Reject(ctx, s, "Please answer yes or no.")
	}
	s.Strikes = 0
	if err := w.executeNotify(ctx, s, answer); err != nil {
		return err
	}
	return w.Accept(ctx, s, answer)
}

// choiceHandler offers a fixed list of options; the input is a
// 1-based ordinal or a literal (case-insensitive) option.  The chosen
// option is stored under Variable+"_value" alongside the raw input
// under Variable.
type choiceHandler struct{}

func (h *choiceHandler) Automatic(w *Workflow, s *State) bool { return false }

func (h *choiceHandler) choices(s *State) []string {
	x, have := s.parameter("choices")
	if !have {
		return nil
	}
	var acc []string
	switch xs := x.(type) {
	case []interface{}:
		for _, o := range xs {
			acc = append(acc, fmt.Sprintf("%v", o))
		}
	case []string:
		acc = xs
	}
	return acc
}

func (h *choiceHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	options := h.choices(s)
	if len(options) == 0 {
		return &BadDefinition{w.Name, `choice state "` + s.Name + `" has no choices`}
	}

	in := trimmed(input)
	chosen := ""
	if n, err := strconv.Atoi(in); err == nil && 1 <= n && n <= len(options) {
		chosen = options[n-1]
	} else {
		for _, o := range options {
			if canon(o) == canon(in) {
				chosen = o
				break
			}
		}
	}

	if chosen == "" {
		s.Strikes++
		if maxStrikes <= s.Strikes {
			return w.abandon(ctx, s, "Let's leave it here.")
		}
		return w.Reject(ctx, s, "Please pick one of the options.")
	}

	s.Strikes = 0
	if err := w.executeNotify(ctx, s, in); err != nil {
		return err
	}
	if s.Variable != "" {
		w.Variables[s.Variable+"_value"] = chosen
	}
	return w.Accept(ctx, s, chosen)
}

// checkAnswerHandler compares a numeric guess against the expected
// answer, hinting by distance, and gives up after a few wrong tries.
type checkAnswerHandler struct{}

func (h *checkAnswerHandler) Automatic(w *Workflow, s *State) bool { return false }

func (h *checkAnswerHandler) answer(s *State) (float64, bool) {
	x, have := s.parameter("answer")
	if !have {
		return 0, false
	}
	switch v := x.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (h *checkAnswerHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	expected, have := h.answer(s)
	if !have {
		return &BadDefinition{w.Name, `checkanswer state "` + s.Name + `" has no answer`}
	}

	guess, err := strconv.ParseFloat(trimmed(input), 64)
	if err != nil {
		return w.Reject(ctx, s, "I need a number.")
	}

	if guess == expected {
		s.Strikes = 0
		if err := w.executeNotify(ctx, s, guess); err != nil {
			return err
		}
		return w.Accept(ctx, s, "correct")
	}

	s.Strikes++
	if checkAnswerTries <= s.Strikes {
		s.Strikes = 0
		if err := w.executeNotify(ctx, s, expected); err != nil {
			return err
		}
		return w.Accept(ctx, s, "failed")
	}

	return w.Reject(ctx, s, h.hint(guess, expected))
}

func (h *checkAnswerHandler) hint(guess, expected float64) string {
	diff := math.Abs(guess - expected)
	near := math.Max(1, 0.1*math.Abs(expected))
	direction := "higher"
	if expected < guess {
		direction = "lower"
	}
	switch {
	case diff <= near:
		return "Very close. Try a bit " + direction + "."
	case diff <= 2.5*near:
		return "Close. Try " + direction + "."
	default:
		return "Not quite. Try much " + direction + "."
	}
}

// decisionHandler evaluates an expression automatically and
// transitions on its (stringified) result.
type decisionHandler struct{}

func (h *decisionHandler) Automatic(w *Workflow, s *State) bool { return true }

func (h *decisionHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	src := s.stringParameter("expression")
	if src == "" {
		return &BadDefinition{w.Name, `decision state "` + s.Name + `" has no expression`}
	}
	x, err := w.eval(ctx, src)
	if err != nil {
		return err
	}
	if err := w.executeNotify(ctx, s, x); err != nil {
		return err
	}
	return w.Accept(ctx, s, fmt.Sprintf("%v", x))
}

// personalizationHandler asks for a fact only when it isn't already
// known, skipping straight through otherwise.
type personalizationHandler struct{}

func (h *personalizationHandler) known(w *Workflow, s *State) bool {
	fact := s.stringParameter("check")
	if fact == "" || w.Context == nil || w.Context.HasPersonalization == nil {
		return false
	}
	return w.Context.HasPersonalization(fact)
}

func (h *personalizationHandler) Automatic(w *Workflow, s *State) bool {
	return h.known(w, s)
}

func (h *personalizationHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	fact := s.stringParameter("check")
	if fact == "" {
		return &BadDefinition{w.Name, `personalization state "` + s.Name + `" has no check`}
	}

	if h.known(w, s) {
		if err := w.executeNotify(ctx, s, "known"); err != nil {
			return err
		}
		return w.Accept(ctx, s, "known")
	}

	in := trimmed(input)
	if in == "" {
		return w.Reject(ctx, s, "I didn't catch that.")
	}
	if w.Context != nil && w.Context.SetPersonalization != nil {
		if err := w.Context.SetPersonalization(fact, in); err != nil {
			return err
		}
	}
	if err := w.executeNotify(ctx, s, in); err != nil {
		return err
	}
	return w.Accept(ctx, s, in)
}

// inlineHandler evaluates an authored expression with the input bound
// as "input" in the environment, then accepts with the result.
type inlineHandler struct{}

func (h *inlineHandler) Automatic(w *Workflow, s *State) bool { return false }

func (h *inlineHandler) Execute(ctx context.Context, w *Workflow, s *State, input string) error {
	src := s.stringParameter("execute")
	if src == "" {
		return &BadDefinition{w.Name, `inline state "` + s.Name + `" has no execute expression`}
	}
	env := make(map[string]interface{}, len(w.Variables)+1)
	for k, v := range w.Variables {
		env[k] = v
	}
	env["input"] = trimmed(input)

	e := expressionEvaluator(w)
	if e == nil {
		return &BadDefinition{w.Name, "no evaluator"}
	}
	x, err := e.Eval(ctx, src, env)
	if err != nil {
		return err
	}
	if err := w.executeNotify(ctx, s, x); err != nil {
		return err
	}
	return w.Accept(ctx, s, fmt.Sprintf("%v", x))
}
