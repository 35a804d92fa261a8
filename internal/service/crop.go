package service

import (
	"context"
	"errors"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/interpret"
	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/storage"
)

type cropOutputs struct {
	condition model.Classification
	cropType  model.Classification
}

// AnalyzeCrop assesses the health and type of the crop in a photo.
func (s *Service) AnalyzeCrop(ctx context.Context, req domain.CropAnalysisRequest) (domain.CropAnalysis, error) {
	o := s.begin(VerticalCrop, s.cfg.Models.Crop)
	if err := s.validateImage(VerticalCrop, req.ImageURL, req.CountryID, req.Image); err != nil {
		s.finish(o, nil, err)
		return domain.CropAnalysis{}, err
	}
	img, err := features.PrepareCropImage(req.Image, s.cfg.CropImageSize)
	if err != nil {
		e := newError(VerticalCrop, ErrValidation, err)
		s.finish(o, nil, e)
		return domain.CropAnalysis{}, e
	}
	o.input = map[string]any{
		"image_url":   req.ImageURL,
		"image_shape": req.Image.Shape(),
		"category_id": req.CategoryID,
	}
	expected := s.expectedTypes(ctx, o, req)

	out, err := bounded(ctx, s.cfg.InferenceTimeout, func(ctx context.Context) (inference[cropOutputs], error) {
		var res inference[cropOutputs]
		cond, err := s.deps.Models.Classifier(ctx, s.cfg.Models.Crop)
		if err != nil {
			return res, err
		}
		kind, err := s.deps.Models.Classifier(ctx, s.cfg.Models.CropType)
		if err != nil {
			return res, err
		}
		res.degraded = cond.Degraded() || kind.Degraded()
		if res.value.condition, err = cond.Infer(img); err != nil {
			return res, err
		}
		res.value.cropType, err = kind.Infer(img)
		return res, err
	})
	if err != nil {
		e := inferenceError(VerticalCrop, err)
		s.finish(o, nil, e)
		return domain.CropAnalysis{}, e
	}
	o.degraded = out.degraded

	res := interpret.CropAnalysis(out.value.condition, out.value.cropType, expected)
	res.AnalysisDate = s.now()

	s.finish(o, map[string]any{
		"health_score": res.HealthScore,
		"condition":    res.Condition,
		"crop_type":    res.CropType,
		"confidence":   res.Confidence,
	}, nil)
	return res, nil
}

// expectedTypes prefers the request, then the category catalog, then the
// crop type the category id itself denotes.
func (s *Service) expectedTypes(ctx context.Context, o *observation, req domain.CropAnalysisRequest) []string {
	if len(req.ExpectedTypes) > 0 {
		return req.ExpectedTypes
	}
	if s.deps.Categories != nil {
		types, err := s.deps.Categories.ExpectedTypes(ctx, req.CategoryID)
		if err == nil && len(types) > 0 {
			return types
		}
		if err != nil && !errors.Is(err, storage.ErrCategoryNotFound) {
			o.contextUnavailable(err, "Category details")
		}
	}
	if t, ok := domain.CropTypeForCategory(req.CategoryID); ok {
		return []string{t}
	}
	return nil
}
