package export

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"offerdesk/api/internal/store"
)

// LineItem is one billable row of a proposal.
type LineItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
}

// Variant is an alternative package the client can pick instead of the
// itemized pricing.
type Variant struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// GalleryImage is a portfolio image attached to a proposal.
type GalleryImage struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

// Advantage is a selling point shown in the "why us" section.
type Advantage struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type lineItemView struct {
	Name        string
	Description string
	Qty         string
	Price       string
	Amount      string
}

type variantView struct {
	Name        string
	Description string
	Price       string
}

type proposalView struct {
	Title      string
	Greeting   string
	Problem    string
	Solution   string
	Additional string

	LineItems   []lineItemView
	Total       string
	Currency    string
	PricingMode string
	Variants    []variantView
	Gallery     []GalleryImage
	Advantages  []Advantage

	ShowGreeting   bool
	ShowProblem    bool
	ShowSolution   bool
	ShowPricing    bool
	ShowVariants   bool
	ShowGallery    bool
	ShowAdvantages bool
	ShowAdditional bool

	UpdatedAt time.Time
}

// RenderProposal builds the durable HTML for a proposal from its stored
// fields. A section with no visibility entry stays visible; an absent
// visibleSections blob shows everything.
func RenderProposal(p store.Proposal) (string, error) {
	var items []LineItem
	if len(p.LineItems) > 0 {
		if err := json.Unmarshal(p.LineItems, &items); err != nil {
			return "", fmt.Errorf("decode line items: %w", err)
		}
	}

	var variants []Variant
	if p.Variants != nil {
		if err := json.Unmarshal(p.Variants, &variants); err != nil {
			return "", fmt.Errorf("decode variants: %w", err)
		}
	}

	var gallery []GalleryImage
	if p.GalleryImages != nil {
		if err := json.Unmarshal(p.GalleryImages, &gallery); err != nil {
			return "", fmt.Errorf("decode gallery images: %w", err)
		}
	}

	var advantages []Advantage
	if p.Advantages != nil {
		if err := json.Unmarshal(p.Advantages, &advantages); err != nil {
			return "", fmt.Errorf("decode advantages: %w", err)
		}
	}

	var visible map[string]bool
	if p.VisibleSections != nil {
		if err := json.Unmarshal(p.VisibleSections, &visible); err != nil {
			return "", fmt.Errorf("decode visible sections: %w", err)
		}
	}

	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}

	view := proposalView{
		Title:       p.Title,
		Greeting:    p.Greeting,
		Problem:     p.Problem,
		Solution:    p.Solution,
		Additional:  p.Additional,
		Currency:    currency,
		PricingMode: p.PricingMode,
		Gallery:     gallery,
		Advantages:  advantages,
		UpdatedAt:   p.UpdatedAt,

		ShowGreeting:   sectionVisible(visible, "greeting"),
		ShowProblem:    sectionVisible(visible, "problem"),
		ShowSolution:   sectionVisible(visible, "solution"),
		ShowPricing:    sectionVisible(visible, "pricing"),
		ShowVariants:   sectionVisible(visible, "variants"),
		ShowGallery:    sectionVisible(visible, "gallery"),
		ShowAdvantages: sectionVisible(visible, "advantages"),
		ShowAdditional: sectionVisible(visible, "additional"),
	}

	total := 0.0
	for _, item := range items {
		amount := item.Qty * item.Price
		total += amount
		view.LineItems = append(view.LineItems, lineItemView{
			Name:        item.Name,
			Description: item.Description,
			Qty:         formatQty(item.Qty),
			Price:       formatAmount(item.Price),
			Amount:      formatAmount(amount),
		})
	}
	view.Total = formatAmount(total)

	for _, v := range variants {
		view.Variants = append(view.Variants, variantView{
			Name:        v.Name,
			Description: v.Description,
			Price:       formatAmount(v.Price),
		})
	}

	return renderTemplate(view)
}

func sectionVisible(visible map[string]bool, name string) bool {
	if visible == nil {
		return true
	}
	v, ok := visible[name]
	if !ok {
		return true
	}
	return v
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatQty(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
