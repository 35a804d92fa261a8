package service

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/model"
)

func (s *Service) validatePrice(req domain.PriceRequest) error {
	if math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) || req.Quantity <= 0 {
		return validationError(VerticalPrice, "quantity must be positive, got %v", req.Quantity)
	}
	unit := strings.ToLower(strings.TrimSpace(req.Unit))
	if !slices.Contains(s.cfg.ValidUnits, unit) {
		return validationError(VerticalPrice, "unit must be one of %v, got %q", s.cfg.ValidUnits, req.Unit)
	}
	if err := s.checkCountry(req.CountryID); err != nil {
		return newError(VerticalPrice, ErrValidation, err)
	}
	return nil
}

func (s *Service) validateYield(req domain.YieldRequest) error {
	if err := s.checkCountry(req.CountryID); err != nil {
		return newError(VerticalYield, ErrValidation, err)
	}
	return nil
}

func (s *Service) validateImage(vertical, imageURL string, country int64, img model.Image) error {
	if err := s.checkImageSource(imageURL); err != nil {
		return newError(vertical, ErrValidation, err)
	}
	if err := s.checkCountry(country); err != nil {
		return newError(vertical, ErrValidation, err)
	}
	if err := img.Validate(); err != nil {
		return newError(vertical, ErrValidation, err)
	}
	if img.Channels != 3 {
		return validationError(vertical, "image must have 3 colour channels, got %d", img.Channels)
	}
	return nil
}

var (
	ErrUnknownCountry = errors.New("invalid country ID")
	ErrUntrustedImage = errors.New("image URL must be from trusted source")
	ErrImageURL       = errors.New("image URL is not a valid http(s) URL")
)

func (s *Service) checkCountry(id int64) error {
	if !slices.Contains(s.cfg.ValidCountries, id) {
		return fmt.Errorf("%w: %d", ErrUnknownCountry, id)
	}
	return nil
}

// checkImageSource accepts a URL whose host is a trusted domain or one of
// its subdomains.
func (s *Service) checkImageSource(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrImageURL, raw)
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range s.cfg.TrustedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUntrustedImage, host)
}
