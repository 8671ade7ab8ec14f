package natours

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/natoursapi"
)

const statsMinRating = 4.5

// TourStats groups the tours rated at least 4.5 by difficulty, cheapest
// group first. Like every aggregate it sees secret tours too.
func (s *Service) TourStats(ctx context.Context) ([]natoursapi.TourStats, error) {
	q := s.Tours.Query().
		WithoutMiddleware().
		Find(docstore.Predicate{"ratingAverage": map[string]interface{}{"$gte": statsMinRating}}).
		Select(docstore.Include("difficulty", "ratingQuantity", "ratingAverage", "price")...)
	tours, err := s.Tours.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error reading tours: %w", err)
	}

	type accumulator struct {
		stats     natoursapi.TourStats
		sumRating float64
		sumPrice  float64
		rated     int
		priced    int
	}
	groups := map[string]*accumulator{}
	var order []string

	for _, tour := range tours {
		difficulty, _ := tour["difficulty"].(string)
		acc, ok := groups[difficulty]
		if !ok {
			acc = &accumulator{stats: natoursapi.TourStats{
				Difficulty: difficulty,
				MinPrice:   math.Inf(1),
				MaxPrice:   math.Inf(-1),
			}}
			groups[difficulty] = acc
			order = append(order, difficulty)
		}

		acc.stats.NumTours++
		if n, ok := tour["ratingQuantity"].(float64); ok {
			acc.stats.NumRatings += n
		}
		if r, ok := tour["ratingAverage"].(float64); ok {
			acc.sumRating += r
			acc.rated++
		}
		if p, ok := tour["price"].(float64); ok {
			acc.sumPrice += p
			acc.priced++
			acc.stats.MinPrice = math.Min(acc.stats.MinPrice, p)
			acc.stats.MaxPrice = math.Max(acc.stats.MaxPrice, p)
		}
	}

	rv := make([]natoursapi.TourStats, 0, len(order))
	for _, difficulty := range order {
		acc := groups[difficulty]
		if acc.rated > 0 {
			acc.stats.AvgRating = acc.sumRating / float64(acc.rated)
		}
		if acc.priced > 0 {
			acc.stats.AvgPrice = acc.sumPrice / float64(acc.priced)
		} else {
			acc.stats.MinPrice, acc.stats.MaxPrice = 0, 0
		}
		rv = append(rv, acc.stats)
	}

	sort.SliceStable(rv, func(i, j int) bool {
		return rv[i].AvgPrice < rv[j].AvgPrice
	})
	return rv, nil
}

// MonthlyPlan counts the tour starts in each month of year, busiest month
// first.
func (s *Service) MonthlyPlan(ctx context.Context, year int) ([]natoursapi.MonthlyPlanEntry, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(1, 0, 0)

	q := s.Tours.Query().
		WithoutMiddleware().
		Find(docstore.Predicate{"startDates": map[string]interface{}{
			"$gte": docstore.FormatTime(from),
			"$lt":  docstore.FormatTime(until),
		}}).
		Select(docstore.Include("name", "startDates")...)
	tours, err := s.Tours.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error reading tours: %w", err)
	}

	byMonth := map[int]*natoursapi.MonthlyPlanEntry{}
	for _, tour := range tours {
		name, _ := tour["name"].(string)
		dates, _ := tour["startDates"].([]interface{})
		for _, d := range dates {
			t, err := docstore.ParseTimestamp(d)
			if err != nil || t.Before(from) || !t.Before(until) {
				continue
			}
			month := int(t.Month())
			entry, ok := byMonth[month]
			if !ok {
				entry = &natoursapi.MonthlyPlanEntry{Month: month, Tours: []string{}}
				byMonth[month] = entry
			}
			entry.NumToursStarts++
			entry.Tours = append(entry.Tours, name)
		}
	}

	rv := make([]natoursapi.MonthlyPlanEntry, 0, len(byMonth))
	for _, entry := range byMonth {
		rv = append(rv, *entry)
	}
	sort.Slice(rv, func(i, j int) bool {
		if rv[i].NumToursStarts != rv[j].NumToursStarts {
			return rv[i].NumToursStarts > rv[j].NumToursStarts
		}
		return rv[i].Month < rv[j].Month
	})
	if len(rv) > 12 {
		rv = rv[:12]
	}
	return rv, nil
}

// TopCheapAlias returns a copy of request asking for the five best rated,
// cheapest tours.
func TopCheapAlias(request natoursapi.QueryRequest) natoursapi.QueryRequest {
	rv := request.Clone()
	rv["limit"] = "5"
	rv["sort"] = "-ratingAverage,price"
	rv["fields"] = "name,price,ratingAverage,summary,difficulty"
	return rv
}
