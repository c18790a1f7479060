package tours

import (
	"context"
	"embed"
	"encoding/json"
	"io"

	goerrors "github.com/goliatone/go-errors"
	natours "github.com/goliatone/go-natours"
)

//go:embed data/tours-simple.json
var fixturesFS embed.FS

// DefaultFixture is the embedded development data set
const DefaultFixture = "data/tours-simple.json"

// LoadFixtures decodes a JSON array of tours
func LoadFixtures(r io.Reader) ([]TourInput, error) {
	var inputs []TourInput
	if err := json.NewDecoder(r).Decode(&inputs); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode tour fixtures")
	}
	return inputs, nil
}

// DefaultFixtures returns the embedded development tours
func DefaultFixtures() ([]TourInput, error) {
	f, err := fixturesFS.Open(DefaultFixture)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open tour fixtures")
	}
	defer f.Close()
	return LoadFixtures(f)
}

// Import creates every input through the regular write pipeline and
// stops at the first failure.
func Import(ctx context.Context, repo Repository, logger natours.Logger, inputs []TourInput) (int, error) {
	created := 0
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		record, err := repo.Create(ctx, in)
		if err != nil {
			return created, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to import tour").
				WithMetadata(map[string]any{"name": in.Name})
		}

		created++
		if logger != nil {
			logger.Debug("tour imported", "id", record.ID, "slug", record.Slug)
		}
	}

	if logger != nil {
		logger.Info("tours imported", "count", created)
	}

	return created, nil
}

// Purge removes every tour
func Purge(ctx context.Context, repo Repository, logger natours.Logger) (int64, error) {
	n, err := repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	if logger != nil {
		logger.Info("tours deleted", "count", n)
	}
	return n, nil
}
