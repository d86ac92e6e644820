package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stulshyan/sherpaAI-sub000/internal/agent"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

func (o *Orchestrator) extract(ctx context.Context, id string) (*models.ExtractionResult, error) {
	req, err := o.deps.Requirements.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find requirement: %w", err)
	}
	if req.SourceKey == "" {
		return nil, apperr.New(apperr.CodeValidation, "extract", fmt.Errorf("requirement %s has no source document", id))
	}
	res, err := o.deps.Extractor.ExtractFromS3(ctx, req.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.SourceKey, err)
	}
	key, err := o.deps.Extractor.SaveExtractedText(ctx, id, res.Text)
	if err != nil {
		return nil, fmt.Errorf("save extracted text: %w", err)
	}
	if err := o.deps.Requirements.UpdateExtractedText(ctx, id, key, res.WordCount); err != nil {
		return nil, fmt.Errorf("update extracted text: %w", err)
	}
	return res, nil
}

// loadText returns the requirement together with its extracted text.
func (o *Orchestrator) loadText(ctx context.Context, id string) (*models.Requirement, string, error) {
	req, err := o.deps.Requirements.FindByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("find requirement: %w", err)
	}
	if req.ExtractedTextKey == "" {
		return nil, "", fmt.Errorf("requirement %s has no extracted text", id)
	}
	body, err := o.deps.Objects.Download(ctx, req.ExtractedTextKey)
	if err != nil {
		return nil, "", fmt.Errorf("download extracted text: %w", err)
	}
	return req, string(body), nil
}

func executionContext(req *models.Requirement) *agent.ExecutionContext {
	return &agent.ExecutionContext{ProjectID: req.ProjectID, RequirementID: req.ID}
}

func (o *Orchestrator) classify(ctx context.Context, id string) (*models.ClassificationResult, error) {
	req, text, err := o.loadText(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := o.deps.Classifier.Execute(ctx, agent.Input[agent.ClassificationInput]{
		Payload: agent.ClassificationInput{RequirementID: id, Title: req.Title, Text: text},
		Context: executionContext(req),
	})
	if err != nil {
		return nil, err
	}
	res := out.Payload
	if err := o.deps.Requirements.UpdateClassification(ctx, id, res.Type, res.Confidence); err != nil {
		return nil, fmt.Errorf("update classification: %w", err)
	}
	return &res, nil
}

func (o *Orchestrator) decompose(ctx context.Context, id string) (*models.DecompositionResult, error) {
	req, text, err := o.loadText(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := o.deps.Decomposer.Execute(ctx, agent.Input[agent.DecompositionInput]{
		Payload: agent.DecompositionInput{RequirementID: id, Title: req.Title, Text: text, Type: req.ClassificationType},
		Context: executionContext(req),
	})
	if err != nil {
		return nil, err
	}
	res := out.Payload
	return &res, nil
}

// score returns a copy of res with a readiness score on every candidate.
func (o *Orchestrator) score(res *models.DecompositionResult) *models.DecompositionResult {
	out := *res
	out.FeatureCandidates = make([]models.FeatureCandidate, len(res.FeatureCandidates))
	for i, fc := range res.FeatureCandidates {
		s := o.deps.Readiness.CalculateScore(fc, res.RequirementsFor(fc), res.QuestionsFor(fc))
		overall := s.Overall
		fc.ReadinessScore = &overall
		out.FeatureCandidates[i] = fc
	}
	return &out
}

func (o *Orchestrator) store(ctx context.Context, st *State, res *models.DecompositionResult) ([]string, error) {
	id := st.RequirementID
	req, err := o.deps.Requirements.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find requirement: %w", err)
	}

	artifacts := []struct {
		name string
		v    interface{}
	}{
		{ArtifactResult, res},
		{ArtifactThemes, res.Themes},
		{ArtifactFeatures, res.FeatureCandidates},
	}
	keys := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		key := ArtifactKey(id, a.name)
		if err := o.deps.Objects.UploadJSON(ctx, key, a.v); err != nil {
			return keys, fmt.Errorf("upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	for _, fc := range res.FeatureCandidates {
		f := &models.Feature{
			ID:            uuid.NewString(),
			ProjectID:     req.ProjectID,
			RequirementID: id,
			CandidateID:   fc.ID,
			Title:         fc.Title,
			Description:   fc.Description,
			Complexity:    fc.EstimatedComplexity,
			ThemeIDs:      append([]string{}, fc.ThemeIDs...),
			Metadata: map[string]interface{}{
				"atomicRequirementIds": fc.AtomicRequirementIDs,
				"confidence":           fc.Confidence,
				"jobId":                st.JobID,
			},
			CreatedAt: o.opts.Now(),
		}
		if fc.ReadinessScore != nil {
			f.ReadinessScore = *fc.ReadinessScore
		}
		if err := o.deps.Features.CreateFeature(ctx, f); err != nil {
			return keys, fmt.Errorf("create feature %s: %w", fc.ID, err)
		}
	}
	return keys, nil
}
