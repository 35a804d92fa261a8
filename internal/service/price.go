package service

import (
	"context"
	"strings"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/interpret"
	"sokoyetu-ai/internal/storage"
)

// PredictPrice suggests a market price for a quantity of produce. When the
// request names a product the suggestion is written back to it.
func (s *Service) PredictPrice(ctx context.Context, req domain.PriceRequest) (domain.PricePrediction, error) {
	o := s.begin(VerticalPrice, s.cfg.Models.Price)
	if err := s.validatePrice(req); err != nil {
		s.finish(o, nil, err)
		return domain.PricePrediction{}, err
	}
	req.Unit = strings.ToLower(strings.TrimSpace(req.Unit))

	now := s.now()
	pctx := domain.PriceContext{Period: now}
	if s.deps.History != nil {
		stats, err := s.deps.History.PriceHistory(ctx, req.CategoryID, req.CountryID, req.CountyID)
		if err != nil {
			o.contextUnavailable(err, "Price history")
		} else {
			pctx.Stats = stats
		}
	}

	row := features.BuildPriceRow(req, pctx)
	o.input = row.Summary()
	o.input["unit"] = req.Unit

	out, err := bounded(ctx, s.cfg.InferenceTimeout, func(ctx context.Context) (inference[float64], error) {
		reg, err := s.deps.Models.Regressor(ctx, s.cfg.Models.Price)
		if err != nil {
			return inference[float64]{}, err
		}
		v, err := reg.Infer(row)
		return inference[float64]{value: v, degraded: reg.Degraded()}, err
	})
	if err != nil {
		e := inferenceError(VerticalPrice, err)
		s.finish(o, nil, e)
		return domain.PricePrediction{}, e
	}
	o.degraded = out.degraded

	res := interpret.PricePrediction(out.value, pctx.Stats)
	res.PredictionDate = now

	if req.ProductID > 0 {
		price := res.PredictedPrice
		if err := s.persist(ctx, VerticalPrice, storage.Insight{ProductID: req.ProductID, SuggestedPrice: &price}); err != nil {
			s.finish(o, nil, err)
			return domain.PricePrediction{}, err
		}
	}

	s.finish(o, map[string]any{
		"predicted_price":  res.PredictedPrice,
		"market_trend":     res.MarketTrend,
		"confidence_score": res.ConfidenceScore,
	}, nil)
	return res, nil
}
