package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/extract"
	"github.com/hochfrequenz/prompt-factory/internal/llm"
)

// call runs one agent. When output is set and the request streams, chunks
// are published as agent_output events.
func (s *Service) call(ctx context.Context, r *run, agent domain.Agent, system, user string, output bool) (string, error) {
	req := llm.AgentRequest{
		Agent:        string(agent),
		SystemPrompt: system,
		UserMessage:  user,
		Model:        r.req.Model,
		Stream:       r.req.Stream,
		MaxTokens:    s.settings.MaxTokens,
	}

	var onChunk llm.ChunkFunc
	if output && r.req.Stream {
		onChunk = func(chunk string) {
			r.emit(domain.EventAgentOutput, map[string]any{
				"agent": string(agent),
				"chunk": chunk,
			})
		}
	}

	start := s.now()
	out, err := s.agents.RunAgent(ctx, req, onChunk)
	s.metrics.AgentCall(string(agent), s.now().Sub(start), err)
	return out, err
}

func (s *Service) agentDone(r *run, agent domain.Agent, success bool, extra map[string]any) {
	payload := map[string]any{"agent": string(agent), "success": success}
	for k, v := range extra {
		payload[k] = v
	}
	r.emit(domain.EventAgentCompleted, payload)
}

// analyze turns the description into a role roster.
func (s *Service) analyze(ctx context.Context, r *run) (*domain.SystemArchitecture, error) {
	r.setStage(domain.StageAnalyze, s.now())
	r.emit(domain.EventAgentStarted, map[string]any{"agent": string(domain.AgentAnalyzer)})

	system, err := s.templates.Get(string(domain.AgentAnalyzer))
	if err != nil {
		s.agentDone(r, domain.AgentAnalyzer, false, nil)
		return nil, fmt.Errorf("%w: load analyzer template: %v", ErrNoRoster, err)
	}

	out, err := s.call(ctx, r, domain.AgentAnalyzer, system, analyzerMessage(r.req), true)
	if err != nil {
		s.agentDone(r, domain.AgentAnalyzer, false, nil)
		return nil, fmt.Errorf("%w: %v", ErrNoRoster, err)
	}

	res := extract.Parse(out)
	if !res.OK() || !res.Record.Has("roles") {
		s.logger.Error("Analyzer output has no roster", "run_id", r.id, "output", truncate(out, 500))
		s.agentDone(r, domain.AgentAnalyzer, false, nil)
		return nil, ErrNoRoster
	}

	arch := architectureFromRecord(res.Record)
	if len(arch.Roles) == 0 {
		s.agentDone(r, domain.AgentAnalyzer, false, nil)
		return nil, ErrNoRoster
	}

	s.logger.Info("Analyzer completed",
		"run_id", r.id,
		"system", arch.SystemName,
		"roles", len(arch.Roles))
	s.agentDone(r, domain.AgentAnalyzer, true, map[string]any{
		"system_name": arch.SystemName,
		"roles":       len(arch.Roles),
	})
	return arch, nil
}

func architectureFromRecord(rec extract.Record) *domain.SystemArchitecture {
	arch := &domain.SystemArchitecture{
		SystemName:        rec.String("system_name"),
		SystemDescription: rec.String("system_description"),
		Domain:            rec.String("domain"),
		TargetUser:        rec.String("target_user"),
		UseCases:          rec.Strings("use_cases"),
	}

	for i, rr := range rec.Records("roles") {
		role := domain.RoleSpec{
			ID:               rr.StringOr("id", fmt.Sprintf("role_%d", i+1)),
			Name:             rr.String("name"),
			Category:         domain.RoleCategory(strings.ToLower(rr.String("type"))),
			Description:      rr.String("description"),
			Responsibilities: rr.Strings("responsibilities"),
			Inputs:           rr.Strings("inputs"),
			Outputs:          rr.Strings("outputs"),
			Triggers:         rr.Strings("triggers"),
		}
		if role.Name == "" {
			role.Name = role.ID
		}
		if !role.Category.Valid() {
			role.Category = domain.CategoryCore
		}
		if p, ok := rr.Int("priority"); ok {
			role.Priority = p
		}
		arch.Roles = append(arch.Roles, role)
	}

	if wf := rec.Map("workflow"); wf != nil {
		workflow := &domain.Workflow{Description: wf.String("description")}
		for _, st := range wf.Records("steps") {
			step, _ := st.Int("step")
			workflow.Steps = append(workflow.Steps, domain.WorkflowStep{
				Step:      step,
				Role:      st.String("role"),
				Action:    st.String("action"),
				Next:      st.Strings("next"),
				Condition: st.String("condition"),
			})
		}
		arch.Workflow = workflow
	} else if desc := rec.String("workflow"); desc != "" {
		arch.Workflow = &domain.Workflow{Description: desc}
	}

	for _, g := range rec.Records("quality_gates") {
		arch.QualityGates = append(arch.QualityGates, domain.QualityGate{
			Gate:       g.String("gate"),
			Role:       g.String("role"),
			Criteria:   g.Strings("criteria"),
			PassAction: g.String("pass_action"),
			FailAction: g.String("fail_action"),
		})
	}
	return arch
}

// generate produces the first candidate prompt of a role. Unparseable
// output is used as the prompt text; only a failed call or an empty
// result is an error.
func (s *Service) generate(ctx context.Context, r *run, arch *domain.SystemArchitecture, spec domain.RoleSpec) (domain.RolePrompt, error) {
	system, err := s.templates.Get(string(domain.AgentGenerator))
	if err != nil {
		return domain.RolePrompt{}, fmt.Errorf("load generator template: %w", err)
	}

	out, err := s.call(ctx, r, domain.AgentGenerator, system, generatorMessage(arch, spec), false)
	if err != nil {
		return domain.RolePrompt{}, fmt.Errorf("generate %s: %w", spec.ID, err)
	}

	p := domain.RolePrompt{
		RoleID:      spec.ID,
		RoleName:    spec.Name,
		RoleType:    spec.Category,
		Description: spec.Description,
		Triggers:    spec.Triggers,
	}

	res := extract.Parse(out)
	if res.OK() {
		p = applyPromptRecord(p, res.Record)
		p.Prompt = extract.CleanPrompt(res.Record.String("prompt"))
	}
	if strings.TrimSpace(p.Prompt) == "" {
		s.logger.Warn("Generator output has no prompt field, using raw output", "run_id", r.id, "role", spec.ID)
		p.Prompt = extract.CleanPrompt(out)
	}

	if strings.TrimSpace(p.Prompt) == "" {
		return domain.RolePrompt{}, errors.New("generator returned an empty prompt")
	}
	return p, nil
}

// applyPromptRecord overlays the fields a record carries onto p.
func applyPromptRecord(p domain.RolePrompt, rec extract.Record) domain.RolePrompt {
	p.RoleID = rec.StringOr("role_id", p.RoleID)
	p.RoleName = rec.StringOr("role_name", p.RoleName)
	if c := domain.RoleCategory(strings.ToLower(rec.String("role_type"))); c.Valid() {
		p.RoleType = c
	}
	p.Description = rec.StringOr("description", p.Description)
	p.InputTemplate = rec.StringOr("input_template", p.InputTemplate)
	p.OutputFormat = rec.StringOr("output_format", p.OutputFormat)
	if t := rec.Strings("triggers"); len(t) > 0 {
		p.Triggers = t
	}
	if c := rec.Strings("collaborates_with"); len(c) > 0 {
		p.CollaboratesWith = c
	}
	return p
}

func defaultReview() *domain.ReviewResult {
	return &domain.ReviewResult{Score: DefaultReviewScore}
}

// review scores a candidate. A failed call or unparseable output yields
// the default score; only a missing template reports false.
func (s *Service) review(ctx context.Context, r *run, p domain.RolePrompt) (*domain.ReviewResult, bool) {
	system, err := s.templates.Get(string(domain.AgentReviewer))
	if err != nil {
		s.logger.Error("Failed to load reviewer template", "run_id", r.id, "error", err)
		return nil, false
	}

	out, err := s.call(ctx, r, domain.AgentReviewer, system, reviewerMessage(p), false)
	if err != nil {
		s.logger.Warn("Review failed, using default score", "run_id", r.id, "role", p.RoleID, "error", err)
		return defaultReview(), true
	}

	res := extract.Parse(out)
	if !res.OK() {
		s.logger.Warn("Review not parseable, using default score", "run_id", r.id, "role", p.RoleID)
		return defaultReview(), true
	}
	return reviewFromRecord(res.Record), true
}

func reviewFromRecord(rec extract.Record) *domain.ReviewResult {
	score, ok := rec.Float("score")
	if !ok {
		score = DefaultReviewScore
	}
	score = min(max(score, 0), 10)

	rv := &domain.ReviewResult{
		Score:     score,
		Strengths: rec.Strings("strengths"),
		Verdict:   rec.String("verdict"),
	}
	for _, item := range rec.List("weaknesses") {
		switch v := item.(type) {
		case map[string]any:
			w := extract.Record(v)
			rv.Weaknesses = append(rv.Weaknesses, domain.Weakness{
				Issue:    w.String("issue"),
				Severity: w.String("severity"),
				Location: w.String("location"),
				Impact:   w.String("impact"),
			})
		case string:
			rv.Weaknesses = append(rv.Weaknesses, domain.Weakness{Issue: v, Severity: "medium"})
		}
	}
	for _, item := range rec.List("suggestions") {
		switch v := item.(type) {
		case map[string]any:
			sg := extract.Record(v)
			rv.Suggestions = append(rv.Suggestions, domain.Suggestion{
				Priority:   sg.String("priority"),
				Suggestion: sg.String("suggestion"),
				Example:    sg.String("example"),
			})
		case string:
			rv.Suggestions = append(rv.Suggestions, domain.Suggestion{Priority: "medium", Suggestion: v})
		}
	}
	if dims := rec.Map("dimensions"); dims != nil {
		rv.Dimensions = map[string]any(dims)
	}
	return rv
}

// optimize rewrites a candidate from its review. It reports false when no
// new candidate could be produced; the caller keeps the previous one.
func (s *Service) optimize(ctx context.Context, r *run, p domain.RolePrompt, rv *domain.ReviewResult) (domain.RolePrompt, bool) {
	system, err := s.templates.Get(string(domain.AgentOptimizer))
	if err != nil {
		s.logger.Error("Failed to load optimizer template", "run_id", r.id, "error", err)
		return p, false
	}

	out, err := s.call(ctx, r, domain.AgentOptimizer, system, optimizerMessage(p, rv), false)
	if err != nil {
		s.logger.Warn("Optimize failed, keeping previous prompt", "run_id", r.id, "role", p.RoleID, "error", err)
		return p, false
	}

	var rec extract.Record
	if res := extract.Parse(out); res.OK() {
		rec = res.Record
	} else if salvaged, ok := extract.Salvage(out); ok {
		s.logger.Warn("Optimizer output not parseable, salvaged prompt text", "run_id", r.id, "role", p.RoleID)
		rec = extract.Record{"prompt": salvaged}
	} else {
		s.logger.Warn("Optimizer output not usable, keeping previous prompt", "run_id", r.id, "role", p.RoleID)
		return p, false
	}

	next := applyPromptRecord(p, rec)
	next.Prompt = extract.CleanPrompt(rec.StringOr("prompt", p.Prompt))
	if strings.TrimSpace(next.Prompt) == "" {
		return p, false
	}
	return next, true
}

// test runs the Tester over the accepted prompts. Failures return nil.
func (s *Service) test(ctx context.Context, r *run, prompts []domain.RolePrompt) *domain.TestResult {
	r.setStage(domain.StageTest, s.now())
	r.emit(domain.EventAgentStarted, map[string]any{"agent": string(domain.AgentTester)})

	system, err := s.templates.Get(string(domain.AgentTester))
	if err != nil {
		s.logger.Error("Failed to load tester template", "run_id", r.id, "error", err)
		s.agentDone(r, domain.AgentTester, false, nil)
		return nil
	}

	out, err := s.call(ctx, r, domain.AgentTester, system, testerMessage(r.architecture(), prompts), true)
	if err != nil {
		s.logger.Warn("Test stage failed", "run_id", r.id, "error", err)
		s.agentDone(r, domain.AgentTester, false, nil)
		return nil
	}

	res := extract.Parse(out)
	if !res.OK() || res.Kind == extract.Partial {
		s.logger.Warn("Tester output not parseable", "run_id", r.id)
		s.agentDone(r, domain.AgentTester, false, nil)
		return nil
	}

	tr := testResultFromRecord(res.Record)
	s.logger.Info("Test stage completed",
		"run_id", r.id,
		"passed", tr.Summary.Passed,
		"total", tr.Summary.TotalTests)
	s.agentDone(r, domain.AgentTester, true, map[string]any{"pass_rate": tr.Summary.PassRate})
	return tr
}

func testResultFromRecord(rec extract.Record) *domain.TestResult {
	tr := &domain.TestResult{Recommendations: rec.Strings("recommendations")}

	if sum := rec.Map("summary"); sum != nil {
		tr.Summary.TotalTests, _ = sum.Int("total_tests")
		tr.Summary.Passed, _ = sum.Int("passed")
		tr.Summary.Failed, _ = sum.Int("failed")
		tr.Summary.Warnings, _ = sum.Int("warnings")
		tr.Summary.PassRate, _ = sum.Float("pass_rate")
		tr.Summary.Verdict = sum.String("verdict")
	}
	for _, tc := range rec.Records("test_cases") {
		tr.TestCases = append(tr.TestCases, domain.TestCase{
			ID:       tc.String("id"),
			Category: tc.String("category"),
			Name:     tc.String("name"),
			Input:    tc.String("input"),
			Expected: tc.String("expected"),
			Actual:   tc.String("actual"),
			Status:   tc.String("status"),
			Notes:    tc.String("notes"),
		})
	}
	for _, is := range rec.Records("issues_found") {
		tr.IssuesFound = append(tr.IssuesFound, domain.TestIssue{
			Severity:       is.String("severity"),
			TestID:         is.String("test_id"),
			Description:    is.String("description"),
			Recommendation: is.String("recommendation"),
		})
	}
	return tr
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
