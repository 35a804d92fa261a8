package service

import (
	"context"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/interpret"
	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/storage"
)

// GradeProduce grades the produce in a photo on the A..E scale. When the
// request names a product the grade is written back to it.
func (s *Service) GradeProduce(ctx context.Context, req domain.GradingRequest) (domain.ProduceGrade, error) {
	o := s.begin(VerticalGrading, s.cfg.Models.Grade)
	if err := s.validateImage(VerticalGrading, req.ImageURL, req.CountryID, req.Image); err != nil {
		s.finish(o, nil, err)
		return domain.ProduceGrade{}, err
	}
	img, err := features.PrepareProduceImage(req.Image, s.cfg.GradeImageSize)
	if err != nil {
		e := newError(VerticalGrading, ErrValidation, err)
		s.finish(o, nil, e)
		return domain.ProduceGrade{}, e
	}
	o.input = map[string]any{
		"image_url":   req.ImageURL,
		"image_shape": req.Image.Shape(),
		"category_id": req.CategoryID,
	}

	out, err := bounded(ctx, s.cfg.InferenceTimeout, func(ctx context.Context) (inference[model.Classification], error) {
		clf, err := s.deps.Models.Classifier(ctx, s.cfg.Models.Grade)
		if err != nil {
			return inference[model.Classification]{}, err
		}
		c, err := clf.Infer(img)
		return inference[model.Classification]{value: c, degraded: clf.Degraded()}, err
	})
	if err != nil {
		e := inferenceError(VerticalGrading, err)
		s.finish(o, nil, e)
		return domain.ProduceGrade{}, e
	}
	o.degraded = out.degraded

	res, err := interpret.ProduceGrade(out.value, img)
	if err != nil {
		e := newError(VerticalGrading, ErrInference, err)
		s.finish(o, nil, e)
		return domain.ProduceGrade{}, e
	}
	res.GradingDate = s.now()

	if req.ProductID > 0 {
		if err := s.persist(ctx, VerticalGrading, storage.Insight{ProductID: req.ProductID, QualityGrade: res.QualityGrade}); err != nil {
			s.finish(o, nil, err)
			return domain.ProduceGrade{}, err
		}
	}

	s.finish(o, map[string]any{
		"quality_grade": res.QualityGrade,
		"confidence":    res.Confidence,
		"defects":       res.Defects,
	}, nil)
	return res, nil
}
