package tours

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-natours/apifeatures"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TopRatedThreshold is the minimum rating included in the stats
const TopRatedThreshold = 4.5

// ListFields are the tour fields exposed to listing queries
var ListFields = map[string]string{
	"id":              "id",
	"name":            "name",
	"slug":            "slug",
	"duration":        "duration",
	"maxGroupSize":    "max_group_size",
	"difficulty":      "difficulty",
	"ratingsAverage":  "ratings_average",
	"ratingsQuantity": "ratings_quantity",
	"price":           "price",
	"priceDiscount":   "price_discount",
	"summary":         "summary",
	"description":     "description",
	"imageCover":      "image_cover",
	"images":          "images",
	"createdAt":       "created_at",
}

// ListKinds declares the numeric listing fields. Everything else is
// compared as text.
var ListKinds = map[string]apifeatures.FieldKind{
	"duration":        apifeatures.KindNumber,
	"maxGroupSize":    apifeatures.KindNumber,
	"ratingsAverage":  apifeatures.KindNumber,
	"ratingsQuantity": apifeatures.KindNumber,
	"price":           apifeatures.KindNumber,
	"priceDiscount":   apifeatures.KindNumber,
}

// ErrTourNotFound no visible tour with the given id
var ErrTourNotFound = goerrors.New("No tour found with that ID", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode("TOUR_NOT_FOUND")

// Repository is the access layer for tours. Secret tours are filtered
// out of every read, listing and aggregation.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Tour, error)
	List(ctx context.Context, query url.Values) ([]*Tour, error)
	Create(ctx context.Context, input TourInput) (*Tour, error)
	Update(ctx context.Context, id string, patch TourPatch) (*Tour, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) ([]TourStats, error)
	MonthlyPlan(ctx context.Context, year int) ([]MonthlyPlan, error)
}

type tours struct {
	repo repository.Repository[*Tour]
	db   *bun.DB
	now  func() time.Time
}

var _ Repository = (*tours)(nil)

type Option func(*tours)

// WithClock sets the clock used for created_at
func WithClock(now func() time.Time) Option {
	return func(t *tours) {
		if now != nil {
			t.now = now
		}
	}
}

func NewRepository(db *bun.DB, opts ...Option) Repository {
	repo := repository.NewRepository[*Tour](db, repository.ModelHandlers[*Tour]{
		NewRecord: func() *Tour { return &Tour{} },
		GetID: func(t *Tour) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Tour, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "slug"
		},
	})

	t := &tours{
		repo: repo,
		db:   db,
		now:  time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

func (r *tours) GetByID(ctx context.Context, id string) (*Tour, error) {
	return r.getByIDTx(ctx, r.db, id)
}

func (r *tours) getByIDTx(ctx context.Context, tx bun.IDB, id string) (*Tour, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	record := &Tour{}
	err = r.visible(tx.NewSelect().Model(record)).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, ErrTourNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load tour")
	}

	if err := r.loadStartDates(ctx, tx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// List returns visible tours matching the listing query string
func (r *tours) List(ctx context.Context, query url.Values) ([]*Tour, error) {
	features, err := apifeatures.Parse(query,
		apifeatures.WithFields(ListFields),
		apifeatures.WithFieldKinds(ListKinds),
	)
	if err != nil {
		return nil, err
	}

	records := []*Tour{}
	_, err = features.Find(ctx, func() *bun.SelectQuery {
		return r.visible(r.db.NewSelect().Model(&records))
	})
	if err != nil {
		return nil, err
	}

	if !features.Projected {
		if err := r.loadStartDates(ctx, r.db, records...); err != nil {
			return nil, err
		}
	}

	return records, nil
}

func (r *tours) Create(ctx context.Context, input TourInput) (*Tour, error) {
	record := input.ToTour()
	if err := prepareTourForWrite(record); err != nil {
		return nil, natours.NewValidationError(err)
	}

	now := r.now().UTC()
	record.ID = uuid.New()
	record.CreatedAt = &now

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := r.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		created.StartDates = record.StartDates
		record = created
		return r.saveStartDates(ctx, tx, record)
	})
	if err != nil {
		return nil, r.writeError(err, record)
	}

	return record, nil
}

// Update merges patch into the stored tour and validates the result as
// a whole, so sibling rules see the final values.
func (r *tours) Update(ctx context.Context, id string, patch TourPatch) (*Tour, error) {
	var record *Tour

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		record, err = r.getByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		patch.Apply(record)
		if err := prepareTourForWrite(record); err != nil {
			return natours.NewValidationError(err)
		}

		if _, err := r.repo.UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String())); err != nil {
			return err
		}

		if patch.StartDates != nil {
			return r.saveStartDates(ctx, tx, record)
		}
		return nil
	})
	if err != nil {
		return nil, r.writeError(err, record)
	}

	return record, nil
}

func (r *tours) Delete(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*Tour)(nil)).
			Where("id = ?", uid).
			Where("secret_tour = ?", false).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete tour")
		}

		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return ErrTourNotFound
		}

		_, err = tx.NewDelete().
			Model((*TourStartDate)(nil)).
			Where("tour_id = ?", uid).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete tour start dates")
		}
		return nil
	})
}

// DeleteAll removes every tour, secret ones included
func (r *tours) DeleteAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*TourStartDate)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*Tour)(nil)).Where("1 = 1").Exec(ctx)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete tours")
	}
	return n, nil
}

// Stats groups highly rated tours by difficulty, cheapest group first
func (r *tours) Stats(ctx context.Context) ([]TourStats, error) {
	stats := []TourStats{}

	err := r.visible(r.db.NewSelect().Model((*Tour)(nil))).
		ColumnExpr("UPPER(?TableAlias.difficulty) AS difficulty").
		ColumnExpr("COUNT(*) AS num_tours").
		ColumnExpr("SUM(?TableAlias.ratings_quantity) AS num_ratings").
		ColumnExpr("AVG(?TableAlias.ratings_average) AS avg_rating").
		ColumnExpr("AVG(?TableAlias.price) AS avg_price").
		ColumnExpr("MIN(?TableAlias.price) AS min_price").
		ColumnExpr("MAX(?TableAlias.price) AS max_price").
		Where("?TableAlias.ratings_average >= ?", TopRatedThreshold).
		GroupExpr("UPPER(?TableAlias.difficulty)").
		OrderExpr("avg_price ASC").
		Scan(ctx, &stats)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compute tour stats")
	}

	return stats, nil
}

type startRow struct {
	Name     string    `bun:"name"`
	StartsAt time.Time `bun:"starts_at"`
}

// MonthlyPlan counts the start dates of year per month, busiest first
func (r *tours) MonthlyPlan(ctx context.Context, year int) ([]MonthlyPlan, error) {
	if year < 1970 || year > 9999 {
		return nil, goerrors.New(fmt.Sprintf("Invalid year: %d", year), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	rows := []startRow{}
	err := r.db.NewSelect().
		TableExpr("tour_start_dates AS tsd").
		Join("JOIN tours AS tour ON tour.id = tsd.tour_id").
		ColumnExpr("tour.name AS name").
		ColumnExpr("tsd.starts_at AS starts_at").
		Where("tour.secret_tour = ?", false).
		Where("tsd.starts_at >= ?", from).
		Where("tsd.starts_at < ?", to).
		OrderExpr("tsd.starts_at ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compute monthly plan")
	}

	return groupByMonth(rows), nil
}

func groupByMonth(rows []startRow) []MonthlyPlan {
	byMonth := map[int]*MonthlyPlan{}
	for _, row := range rows {
		month := int(row.StartsAt.UTC().Month())
		plan, ok := byMonth[month]
		if !ok {
			plan = &MonthlyPlan{Month: month, Tours: []string{}}
			byMonth[month] = plan
		}
		plan.NumTourStarts++
		plan.Tours = append(plan.Tours, row.Name)
	}

	out := make([]MonthlyPlan, 0, len(byMonth))
	for _, plan := range byMonth {
		out = append(out, *plan)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NumTourStarts != out[j].NumTourStarts {
			return out[i].NumTourStarts > out[j].NumTourStarts
		}
		return out[i].Month < out[j].Month
	})

	if len(out) > 12 {
		out = out[:12]
	}

	return out
}

func (r *tours) visible(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Where("?TableAlias.secret_tour = ?", false)
}

func (r *tours) loadStartDates(ctx context.Context, tx bun.IDB, records ...*Tour) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(records))
	byID := make(map[uuid.UUID]*Tour, len(records))
	for _, t := range records {
		ids = append(ids, t.ID)
		byID[t.ID] = t
		t.StartDates = []time.Time{}
	}

	dates := []TourStartDate{}
	err := tx.NewSelect().
		Model(&dates).
		Where("?TableAlias.tour_id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.starts_at ASC").
		Scan(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load tour start dates")
	}

	for _, d := range dates {
		if t, ok := byID[d.TourID]; ok {
			t.StartDates = append(t.StartDates, d.StartsAt.UTC())
		}
	}

	return nil
}

func (r *tours) saveStartDates(ctx context.Context, tx bun.IDB, record *Tour) error {
	if _, err := tx.NewDelete().
		Model((*TourStartDate)(nil)).
		Where("tour_id = ?", record.ID).
		Exec(ctx); err != nil {
		return err
	}

	if len(record.StartDates) == 0 {
		return nil
	}

	seen := map[int64]bool{}
	rows := make([]TourStartDate, 0, len(record.StartDates))
	for _, d := range record.StartDates {
		d = d.UTC()
		if seen[d.UnixNano()] {
			continue
		}
		seen[d.UnixNano()] = true
		rows = append(rows, TourStartDate{TourID: record.ID, StartsAt: d})
	}

	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (r *tours) writeError(err error, record *Tour) error {
	if natours.IsUniqueViolation(err) {
		name := ""
		if record != nil {
			name = record.Name
		}
		return natours.NewDuplicateFieldError("name", name)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save tour")
}

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, goerrors.New(fmt.Sprintf("Invalid id: %s.", id), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("INVALID_ID")
	}
	return uid, nil
}
