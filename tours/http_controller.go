package tours

import (
	"net/http"
	"net/url"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-natours/apifeatures"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// DefaultToursPath is where the tour routes are mounted
const DefaultToursPath = "/api/v1/tours"

// TopToursPreset is the canned query behind /top-5-cheap
var TopToursPreset = map[string]string{
	apifeatures.KeyLimit:  "5",
	apifeatures.KeySort:   "-ratingsAverage,price",
	apifeatures.KeyFields: "name,price,ratingsAverage,summary,difficulty",
}

// RegisterTourRoutes mounts the tour routes on app
func RegisterTourRoutes[T any](app router.Router[T], controller *TourController) {
	protect := controller.Guard.Protect()
	managers := controller.Guard.RestrictTo(natours.RoleAdmin, natours.RoleLeadGuide)

	app.Get("/top-5-cheap", controller.TopTours).SetName("tours.top-5-cheap")
	app.Get("/tour-stats", controller.Stats).SetName("tours.stats")
	app.Get("/monthly-plan/:year", controller.MonthlyPlan,
		protect,
		controller.Guard.RestrictTo(natours.RoleAdmin, natours.RoleLeadGuide, natours.RoleGuide),
	).SetName("tours.monthly-plan")

	app.Get("/", controller.List).SetName("tours.list")
	app.Post("/", controller.Create, protect, managers).SetName("tours.create")
	app.Get("/:id", controller.Get).SetName("tours.get")
	app.Patch("/:id", controller.Update, protect, managers).SetName("tours.update")
	app.Delete("/:id", controller.Delete, protect, managers).SetName("tours.delete")
}

type TourController struct {
	Debug        bool
	Logger       natours.Logger
	Repo         Repository
	Guard        *natours.RouteGuard
	ErrorHandler router.ErrorHandler
}

type TourControllerOption func(*TourController)

// WithDebug logs request payloads
func WithDebug(debug bool) TourControllerOption {
	return func(c *TourController) {
		c.Debug = debug
	}
}

// WithLogger sets the controller logger
func WithLogger(logger natours.Logger) TourControllerOption {
	return func(c *TourController) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func NewTourController(repo Repository, guard *natours.RouteGuard, opts ...TourControllerOption) *TourController {
	if repo == nil {
		panic("Missing Repository in tour controller...")
	}

	if guard == nil {
		panic("Missing RouteGuard in tour controller...")
	}

	c := &TourController{
		Repo:         repo,
		Guard:        guard,
		ErrorHandler: guard.ErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

func (c *TourController) List(ctx router.Context) error {
	query, err := natours.RequestQuery(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return c.list(ctx, query)
}

// TopTours lists the five best rated tours, cheapest first on ties
func (c *TourController) TopTours(ctx router.Context) error {
	query, err := natours.RequestQuery(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return c.list(ctx, apifeatures.Alias(query, TopToursPreset))
}

func (c *TourController) list(ctx router.Context, query url.Values) error {
	records, err := c.Repo.List(ctx.Context(), query)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(records),
		"data":    map[string]any{"tours": records},
	})
}

func (c *TourController) Get(ctx router.Context) error {
	record, err := c.Repo.GetByID(ctx.Context(), ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, natours.Success(map[string]any{"tour": record}))
}

func (c *TourController) Create(ctx router.Context) error {
	payload := new(TourInput)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, natours.ErrUnableToParseData)
	}

	c.debug("create tour", payload)

	record, err := c.Repo.Create(ctx.Context(), *payload)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, natours.Success(map[string]any{"tour": record}))
}

func (c *TourController) Update(ctx router.Context) error {
	payload := new(TourPatch)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, natours.ErrUnableToParseData)
	}

	c.debug("update tour", payload)

	record, err := c.Repo.Update(ctx.Context(), ctx.Param("id"), *payload)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, natours.Success(map[string]any{"tour": record}))
}

func (c *TourController) Delete(ctx router.Context) error {
	if err := c.Repo.Delete(ctx.Context(), ctx.Param("id")); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.Status(http.StatusNoContent).SendString("")
}

func (c *TourController) Stats(ctx router.Context) error {
	stats, err := c.Repo.Stats(ctx.Context())
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, natours.Success(map[string]any{"stats": stats}))
}

func (c *TourController) MonthlyPlan(ctx router.Context) error {
	raw := ctx.Param("year")
	year, err := strconv.Atoi(raw)
	if err != nil {
		return c.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "Invalid year: "+raw).
			WithCode(goerrors.CodeBadRequest))
	}

	plan, err := c.Repo.MonthlyPlan(ctx.Context(), year)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, natours.Success(map[string]any{"plan": plan}))
}

func (c *TourController) debug(msg string, payload any) {
	if !c.Debug || c.Logger == nil {
		return
	}
	c.Logger.Debug(msg, "payload", print.MaybePrettyJSON(payload))
}
