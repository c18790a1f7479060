package tours

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyDifficult Difficulty = "difficult"
)

// DefaultRatingsAverage is assigned to tours without ratings
const DefaultRatingsAverage = 4.5

// Tour is a bookable tour. Secret tours never leave the repository.
type Tour struct {
	bun.BaseModel   `bun:"table:tours,alias:tour"`
	ID              uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	Name            string      `bun:"name,notnull,unique" json:"name"`
	Slug            string      `bun:"slug" json:"slug,omitempty"`
	Duration        int         `bun:"duration,notnull" json:"duration,omitempty"`
	MaxGroupSize    int         `bun:"max_group_size,notnull" json:"maxGroupSize,omitempty"`
	Difficulty      Difficulty  `bun:"difficulty,notnull" json:"difficulty,omitempty"`
	RatingsAverage  float64     `bun:"ratings_average,notnull" json:"ratingsAverage,omitempty"`
	RatingsQuantity int         `bun:"ratings_quantity,notnull" json:"ratingsQuantity"`
	Price           float64     `bun:"price,notnull" json:"price,omitempty"`
	PriceDiscount   *float64    `bun:"price_discount" json:"priceDiscount,omitempty"`
	Summary         string      `bun:"summary,notnull" json:"summary,omitempty"`
	Description     string      `bun:"description" json:"description,omitempty"`
	ImageCover      string      `bun:"image_cover,notnull" json:"imageCover,omitempty"`
	Images          []string    `bun:"images" json:"images,omitempty"`
	StartDates      []time.Time `bun:"-" json:"startDates,omitempty"`
	SecretTour      bool        `bun:"secret_tour,notnull" json:"secretTour"`
	CreatedAt       *time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt,omitempty"`
}

// DurationWeeks is derived from Duration and never stored
func (t Tour) DurationWeeks() float64 {
	return float64(t.Duration) / 7
}

func (t Tour) MarshalJSON() ([]byte, error) {
	type tour Tour
	out := struct {
		tour
		DurationWeeks *float64 `json:"durationWeeks,omitempty"`
	}{tour: tour(t)}

	if t.Duration > 0 {
		weeks := t.DurationWeeks()
		out.DurationWeeks = &weeks
	}

	return json.Marshal(out)
}

// TourStartDate is one scheduled departure
type TourStartDate struct {
	bun.BaseModel `bun:"table:tour_start_dates,alias:tsd"`
	TourID        uuid.UUID `bun:"tour_id,pk,type:uuid"`
	StartsAt      time.Time `bun:"starts_at,pk"`
}

// TourStats aggregates highly rated tours per difficulty
type TourStats struct {
	Difficulty string  `bun:"difficulty" json:"difficulty"`
	NumTours   int     `bun:"num_tours" json:"numTours"`
	NumRatings int     `bun:"num_ratings" json:"numRatings"`
	AvgRating  float64 `bun:"avg_rating" json:"avgRating"`
	AvgPrice   float64 `bun:"avg_price" json:"avgPrice"`
	MinPrice   float64 `bun:"min_price" json:"minPrice"`
	MaxPrice   float64 `bun:"max_price" json:"maxPrice"`
}

// MonthlyPlan lists the tours starting in a month
type MonthlyPlan struct {
	Month         int      `json:"month"`
	NumTourStarts int      `json:"numTourStarts"`
	Tours         []string `json:"tours"`
}
