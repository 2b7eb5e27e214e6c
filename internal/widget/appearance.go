package widget

import (
	"encoding/json"

	"github.com/ashureev/surveysync/internal/domain"
)

// Appearance is the branding a survey renders with.
type Appearance struct {
	BrandColor           string `json:"brandColor"`
	HighlightBorderColor string `json:"highlightBorderColor,omitempty"`
	Placement            string `json:"placement"`
	ClickOutsideClose    bool   `json:"clickOutsideClose"`
	DarkOverlay          bool   `json:"darkOverlay"`
	ShowSignature        bool   `json:"showSignature"`
}

type productOverwrites struct {
	BrandColor           *string `json:"brandColor"`
	HighlightBorderColor *string `json:"highlightBorderColor"`
	Placement            *string `json:"placement"`
	ClickOutsideClose    *bool   `json:"clickOutsideClose"`
	DarkOverlay          *bool   `json:"darkOverlay"`
}

// ResolveAppearance applies the survey's product overwrites on top of the
// product branding. Malformed overwrites are ignored.
func ResolveAppearance(product *domain.Product, survey *domain.Survey) Appearance {
	var a Appearance
	if product != nil {
		a = Appearance{
			BrandColor:           product.BrandColor,
			HighlightBorderColor: product.HighlightBorderColor,
			Placement:            product.Placement,
			ClickOutsideClose:    product.ClickOutsideClose,
			DarkOverlay:          product.DarkOverlay,
			ShowSignature:        product.ShowSignature,
		}
	}
	if survey == nil || len(survey.ProductOverwrites) == 0 {
		return a
	}

	var o productOverwrites
	if err := json.Unmarshal(survey.ProductOverwrites, &o); err != nil {
		return a
	}
	if o.BrandColor != nil {
		a.BrandColor = *o.BrandColor
	}
	if o.HighlightBorderColor != nil {
		a.HighlightBorderColor = *o.HighlightBorderColor
	}
	if o.Placement != nil {
		a.Placement = *o.Placement
	}
	if o.ClickOutsideClose != nil {
		a.ClickOutsideClose = *o.ClickOutsideClose
	}
	if o.DarkOverlay != nil {
		a.DarkOverlay = *o.DarkOverlay
	}
	return a
}
