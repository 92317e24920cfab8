package api

import (
	"fmt"

	"tourplan/internal/model"
)

func validateSolveOptions(o *model.SolveOptions) error {
	if o == nil {
		return nil
	}
	switch o.Moves {
	case "", "all", "two_opt", "or_opt":
	default:
		return fmt.Errorf("invalid moves: %s", o.Moves)
	}
	switch o.Selection {
	case "", "first", "best":
	default:
		return fmt.Errorf("invalid selection: %s", o.Selection)
	}
	if o.MaxPasses < 0 {
		return fmt.Errorf("maxPasses must be >= 0")
	}
	if o.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	return nil
}

func validateSolveRequest(req *model.SolveRequest) error {
	if req.Depot < 0 || (len(req.Matrix) > 0 && req.Depot >= len(req.Matrix)) {
		return fmt.Errorf("depot %d out of range", req.Depot)
	}
	return validateSolveOptions(req.Options)
}

func validatePlanRequest(req *model.PlanRequest) error {
	if len(req.Locations) == 0 {
		return fmt.Errorf("locations are required")
	}
	for i, loc := range req.Locations {
		if loc.Address == "" && loc.Point == nil {
			return fmt.Errorf("location %d needs an address or a point", i)
		}
		if loc.Point != nil {
			if loc.Point.Lat < -90 || loc.Point.Lat > 90 || loc.Point.Lng < -180 || loc.Point.Lng > 180 {
				return fmt.Errorf("location %d has coordinates off the map", i)
			}
		}
	}
	if req.Depot < 0 || req.Depot >= len(req.Locations) {
		return fmt.Errorf("depot %d out of range", req.Depot)
	}
	switch req.Source {
	case "", model.SourceHaversine, model.SourceAPI:
	default:
		return fmt.Errorf("invalid source: %s", req.Source)
	}
	return validateSolveOptions(req.Options)
}
