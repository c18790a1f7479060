package tours

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gosimple/slug"
)

// TourInput is the payload accepted when creating a tour
type TourInput struct {
	Name            string      `json:"name"`
	Duration        int         `json:"duration"`
	MaxGroupSize    int         `json:"maxGroupSize"`
	Difficulty      Difficulty  `json:"difficulty"`
	RatingsAverage  *float64    `json:"ratingsAverage"`
	RatingsQuantity *int        `json:"ratingsQuantity"`
	Price           float64     `json:"price"`
	PriceDiscount   *float64    `json:"priceDiscount"`
	Summary         string      `json:"summary"`
	Description     string      `json:"description"`
	ImageCover      string      `json:"imageCover"`
	Images          []string    `json:"images"`
	StartDates      []time.Time `json:"startDates"`
	SecretTour      bool        `json:"secretTour"`
}

// ToTour builds a new record with defaults applied
func (in TourInput) ToTour() *Tour {
	t := &Tour{
		Name:           in.Name,
		Duration:       in.Duration,
		MaxGroupSize:   in.MaxGroupSize,
		Difficulty:     in.Difficulty,
		RatingsAverage: DefaultRatingsAverage,
		Price:          in.Price,
		PriceDiscount:  in.PriceDiscount,
		Summary:        in.Summary,
		Description:    in.Description,
		ImageCover:     in.ImageCover,
		Images:         in.Images,
		StartDates:     in.StartDates,
		SecretTour:     in.SecretTour,
	}
	if in.RatingsAverage != nil {
		t.RatingsAverage = *in.RatingsAverage
	}
	if in.RatingsQuantity != nil {
		t.RatingsQuantity = *in.RatingsQuantity
	}
	return t
}

// TourPatch holds a partial update. Nil fields are left untouched.
type TourPatch struct {
	Name            *string      `json:"name"`
	Duration        *int         `json:"duration"`
	MaxGroupSize    *int         `json:"maxGroupSize"`
	Difficulty      *Difficulty  `json:"difficulty"`
	RatingsAverage  *float64     `json:"ratingsAverage"`
	RatingsQuantity *int         `json:"ratingsQuantity"`
	Price           *float64     `json:"price"`
	PriceDiscount   *float64     `json:"priceDiscount"`
	Summary         *string      `json:"summary"`
	Description     *string      `json:"description"`
	ImageCover      *string      `json:"imageCover"`
	Images          *[]string    `json:"images"`
	StartDates      *[]time.Time `json:"startDates"`
}

// Apply copies the set fields onto t
func (p TourPatch) Apply(t *Tour) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Duration != nil {
		t.Duration = *p.Duration
	}
	if p.MaxGroupSize != nil {
		t.MaxGroupSize = *p.MaxGroupSize
	}
	if p.Difficulty != nil {
		t.Difficulty = *p.Difficulty
	}
	if p.RatingsAverage != nil {
		t.RatingsAverage = *p.RatingsAverage
	}
	if p.RatingsQuantity != nil {
		t.RatingsQuantity = *p.RatingsQuantity
	}
	if p.Price != nil {
		t.Price = *p.Price
	}
	if p.PriceDiscount != nil {
		t.PriceDiscount = p.PriceDiscount
	}
	if p.Summary != nil {
		t.Summary = *p.Summary
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ImageCover != nil {
		t.ImageCover = *p.ImageCover
	}
	if p.Images != nil {
		t.Images = *p.Images
	}
	if p.StartDates != nil {
		t.StartDates = *p.StartDates
	}
}

// Validate checks the whole record, sibling rules included
func (t *Tour) Validate() error {
	errs := validation.Errors{}

	err := validation.ValidateStruct(t,
		validation.Field(&t.Name,
			validation.Required.Error("A tour must have a name"),
			validation.RuneLength(10, 40).Error("A tour name must have between 10 and 40 characters"),
		),
		validation.Field(&t.Duration,
			validation.Required.Error("A tour must have a duration"),
			validation.Min(1),
		),
		validation.Field(&t.MaxGroupSize,
			validation.Required.Error("A tour must have a group size"),
			validation.Min(1),
		),
		validation.Field(&t.Difficulty,
			validation.Required.Error("A tour must have a difficulty"),
			validation.In(DifficultyEasy, DifficultyMedium, DifficultyDifficult).
				Error("Difficulty must be either: easy, medium, difficult"),
		),
		validation.Field(&t.RatingsAverage,
			validation.Min(1.0).Error("Rating must be above 1.0"),
			validation.Max(5.0).Error("Rating must be below 5.0"),
		),
		validation.Field(&t.RatingsQuantity, validation.Min(0)),
		validation.Field(&t.Price,
			validation.Required.Error("A tour must have a price"),
			validation.Min(0.0),
		),
		validation.Field(&t.Summary, validation.Required.Error("A tour must have a summary")),
		validation.Field(&t.ImageCover, validation.Required.Error("A tour must have a cover image")),
	)

	if err != nil {
		var verrs validation.Errors
		if !errors.As(err, &verrs) {
			return err
		}
		errs = verrs
	}

	if err := validatePriceDiscount(t.Price, t.PriceDiscount); err != nil {
		errs["priceDiscount"] = err
	}

	return errs.Filter()
}

// validatePriceDiscount requires the discount to stay below the price
func validatePriceDiscount(price float64, discount *float64) error {
	if discount == nil {
		return nil
	}
	if *discount >= price {
		return fmt.Errorf("Discount price (%v) should be below regular price", *discount)
	}
	return nil
}

// prepareTourForWrite runs the write pipeline: trim, slug, validate
func prepareTourForWrite(t *Tour) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Summary = strings.TrimSpace(t.Summary)
	t.Description = strings.TrimSpace(t.Description)
	t.Difficulty = Difficulty(strings.ToLower(strings.TrimSpace(string(t.Difficulty))))
	t.Slug = slug.Make(t.Name)

	return t.Validate()
}
