package natoursapi

import "github.com/steinarvk/natours/lib/docstore"

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

type ListResponse struct {
	Status  string              `json:"status"`
	Results int                 `json:"results"`
	Data    []docstore.Document `json:"data"`
}

func NewListResponse(docs []docstore.Document) ListResponse {
	if docs == nil {
		docs = []docstore.Document{}
	}
	return ListResponse{Status: StatusSuccess, Results: len(docs), Data: docs}
}

type DocumentResponse struct {
	Status string            `json:"status"`
	Data   docstore.Document `json:"data"`
}

type CreatedData struct {
	Data docstore.Document `json:"data"`
}

type CreatedResponse struct {
	Status string      `json:"status"`
	Data   CreatedData `json:"data"`
}

type TourStats struct {
	Difficulty string  `json:"_id"`
	NumTours   int     `json:"numTours"`
	NumRatings float64 `json:"numRatings"`
	AvgRating  float64 `json:"avgRating"`
	AvgPrice   float64 `json:"avgPrice"`
	MinPrice   float64 `json:"minPrice"`
	MaxPrice   float64 `json:"maxPrice"`
}

type TourStatsData struct {
	Stats []TourStats `json:"stats"`
}

type TourStatsResponse struct {
	Status string        `json:"status"`
	Data   TourStatsData `json:"data"`
}

type MonthlyPlanEntry struct {
	Month          int      `json:"month"`
	NumToursStarts int      `json:"numToursStarts"`
	Tours          []string `json:"tours"`
}

type MonthlyPlanData struct {
	Plan []MonthlyPlanEntry `json:"plan"`
}

type MonthlyPlanResponse struct {
	Status  string          `json:"status"`
	Results int             `json:"results"`
	Data    MonthlyPlanData `json:"data"`
}

type ErrorResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

type ImportResponse struct {
	Status   string         `json:"status"`
	Imported map[string]int `json:"imported"`
}
