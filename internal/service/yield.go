package service

import (
	"context"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/interpret"
	"sokoyetu-ai/internal/storage"
)

// ForecastYield forecasts the yield of a farmer's crop and stores the
// forecast. A zero ForecastDate means now.
func (s *Service) ForecastYield(ctx context.Context, req domain.YieldRequest) (domain.YieldForecast, error) {
	o := s.begin(VerticalYield, s.cfg.Models.Yield)
	if err := s.validateYield(req); err != nil {
		s.finish(o, nil, err)
		return domain.YieldForecast{}, err
	}
	now := s.now()
	if req.ForecastDate.IsZero() {
		req.ForecastDate = now
	}

	var yctx domain.YieldContext
	if s.deps.History != nil {
		avg, found, err := s.deps.History.YieldAverage(ctx, req.CategoryID, req.CountryID, req.CountyID, s.cfg.YieldHistoryYears, req.ForecastDate)
		switch {
		case err != nil:
			o.contextUnavailable(err, "Yield history")
		case found:
			yctx = domain.YieldContext{TrailingAverage: avg, HasHistory: true}
		}
	}

	row := features.BuildYieldRow(req, yctx)
	o.input = row.Summary()

	out, err := bounded(ctx, s.cfg.InferenceTimeout, func(ctx context.Context) (inference[float64], error) {
		reg, err := s.deps.Models.Regressor(ctx, s.cfg.Models.Yield)
		if err != nil {
			return inference[float64]{}, err
		}
		v, err := reg.Infer(row)
		return inference[float64]{value: v, degraded: reg.Degraded()}, err
	})
	if err != nil {
		e := inferenceError(VerticalYield, err)
		s.finish(o, nil, e)
		return domain.YieldForecast{}, e
	}
	o.degraded = out.degraded

	res := interpret.YieldForecast(out.value, req.ForecastDate)

	err = s.persist(ctx, VerticalYield, storage.Insight{Forecast: &storage.YieldForecastRecord{
		UserID:          req.UserID,
		ProductID:       req.ProductID,
		CategoryID:      req.CategoryID,
		ForecastedYield: res.ForecastedYield,
		ConfidenceScore: res.ConfidenceScore,
		ForecastDate:    res.ForecastDate,
		CreatedAt:       now,
	}})
	if err != nil {
		s.finish(o, nil, err)
		return domain.YieldForecast{}, err
	}

	s.finish(o, map[string]any{
		"forecasted_yield": res.ForecastedYield,
		"confidence_score": res.ConfidenceScore,
	}, nil)
	return res, nil
}
