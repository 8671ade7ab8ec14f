package natours

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/docstore/memstore"
	"github.com/steinarvk/natours/lib/natoursapi"
)

const (
	leadID   = "0b6a5a4c-9b4e-4f7e-8a5e-2f3c4d5e6f70"
	hikerID  = "1a2b3c4d-0000-4000-8000-000000000001"
	forestID = "2a2b3c4d-0000-4000-8000-000000000002"
	secretID = "3a2b3c4d-0000-4000-8000-000000000003"
	seaID    = "4a2b3c4d-0000-4000-8000-000000000004"
)

func tourInput(id, name, difficulty string, price, rating float64, startDates ...string) docstore.Document {
	dates := make([]interface{}, len(startDates))
	for i, d := range startDates {
		dates[i] = d
	}
	doc := docstore.Document{
		"name":          name,
		"duration":      7.0,
		"maxGroupSize":  10.0,
		"difficulty":    difficulty,
		"price":         price,
		"ratingAverage": rating,
		"summary":       "  A short summary  ",
		"imageCover":    "cover.jpg",
		"startDates":    dates,
	}
	if id != "" {
		doc[docstore.IDField] = id
	}
	return doc
}

func fixture(t *testing.T) (*Service, context.Context) {
	t.Helper()
	ctx := context.Background()

	store, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New error: %v", err)
	}
	svc := New(store)
	if err := svc.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes error: %v", err)
	}

	secret := tourInput(secretID, "The Secret Summit", "difficult", 900, 5.0, "2021-03-01")
	secret["secretTour"] = true

	forest := tourInput(forestID, "The Forest Hiker", "easy", 397, 4.7, "2021-04-25", "2021-07-20", "2022-01-05")
	forest["guides"] = []interface{}{leadID}

	_, err = svc.Import(ctx, &DevData{
		Users: []docstore.Document{
			{"_id": leadID, "name": "Steven Miller", "email": "Steven@Example.com", "role": "lead-guide", "photo": "user-2.jpg"},
			{"_id": hikerID, "name": "Laura Wilson", "email": "laura@example.com"},
		},
		Tours: []docstore.Document{
			forest,
			tourInput(seaID, "The Sea Explorer", "medium", 497, 4.8, "2021-07-01"),
			tourInput("", "The Snow Adventurer", "difficult", 997, 4.5, "2021-07-10"),
			tourInput("", "The City Wanderer", "easy", 1197, 4.2, "2021-04-01"),
			secret,
		},
	})
	if err != nil {
		t.Fatalf("Import error: %v", err)
	}
	return svc, ctx
}

func TestSlugify(t *testing.T) {
	testcases := map[string]string{
		"The Forest Hiker":     "the-forest-hiker",
		"  Café   Crème! ":     "cafe-creme",
		"Northern Lights 2021": "northern-lights-2021",
		"":                     "",
	}
	for in, want := range testcases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q want %q", in, got, want)
		}
	}
}

func TestCreateTourAppliesModel(t *testing.T) {
	svc, ctx := fixture(t)

	input := tourInput("", "The Park Camper", "medium", 1497, 4.666)
	tour, err := svc.Tours.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if tour["slug"] != "the-park-camper" {
		t.Fatalf("slug = %v", tour["slug"])
	}
	if tour["ratingAverage"] != 4.7 {
		t.Fatalf("ratingAverage = %v", tour["ratingAverage"])
	}
	if tour["summary"] != "A short summary" || tour["secretTour"] != false || tour["ratingQuantity"] != 0.0 {
		t.Fatalf("unexpected tour %v", tour)
	}
	if weeks, _ := tour["durationWeeks"].(float64); weeks != 1 {
		t.Fatalf("durationWeeks = %v", tour["durationWeeks"])
	}
}

func TestCreateTourValidation(t *testing.T) {
	svc, ctx := fixture(t)

	input := tourInput("", "Short", "extreme", 100, 6)
	input["priceDiscount"] = 50.0
	_, err := svc.Tours.Create(ctx, input)

	var verr *docstore.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	var messages []string
	for _, fe := range verr.Fields() {
		messages = append(messages, fe.Message)
	}
	want := []string{
		"A tour name must have at least 10 characters.",
		"Difficulty is either: easy, medium or difficult.",
		"Rating must be below 5.0",
		"Discount price (50) must be between 0 and 10% of regular price",
	}
	if !reflect.DeepEqual(messages, want) {
		t.Fatalf("got %q want %q", messages, want)
	}
}

func TestDuplicateTourName(t *testing.T) {
	svc, ctx := fixture(t)
	_, err := svc.Tours.Create(ctx, tourInput("", "The Forest Hiker", "easy", 100, 4.5))
	var derr *docstore.DuplicateKeyError
	if !errors.As(err, &derr) || derr.Value != "The Forest Hiker" {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestSecretToursAreHidden(t *testing.T) {
	svc, ctx := fixture(t)

	tours, err := svc.Tours.Find(ctx, svc.Tours.Query())
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(tours) != 4 {
		t.Fatalf("got %d tours, want 4", len(tours))
	}
	if _, err := svc.GetTour(ctx, secretID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("secret tour visible: %v", err)
	}
}

func TestUserModel(t *testing.T) {
	svc, ctx := fixture(t)

	user, err := svc.Users.FindByID(ctx, leadID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if user["email"] != "steven@example.com" {
		t.Fatalf("email not normalised: %v", user["email"])
	}

	_, err = svc.Users.Create(ctx, docstore.Document{"name": "Bob", "email": "not-an-email"})
	var verr *docstore.ValidationError
	if !errors.As(err, &verr) || verr.Fields()[0].Message != "Please provide a valid email." {
		t.Fatalf("expected email validation error, got %v", err)
	}

	hiker, err := svc.Users.FindByID(ctx, hikerID)
	if err != nil || hiker["role"] != "user" {
		t.Fatalf("default role missing: %v %v", hiker, err)
	}
}

func TestGetTourPopulatesGuides(t *testing.T) {
	svc, ctx := fixture(t)

	tour, err := svc.GetTour(ctx, forestID)
	if err != nil {
		t.Fatalf("GetTour error: %v", err)
	}
	guides, _ := tour["guides"].([]interface{})
	if len(guides) != 1 {
		t.Fatalf("guides = %v", tour["guides"])
	}
	guide := guides[0].(map[string]interface{})
	if guide["name"] != "Steven Miller" || guide["photo"] != "user-2.jpg" {
		t.Fatalf("unexpected guide %v", guide)
	}
	if _, ok := guide["role"]; ok {
		t.Fatalf("role should not be populated: %v", guide)
	}
	if _, ok := guide[docstore.VersionField]; ok {
		t.Fatalf("version should not be populated: %v", guide)
	}
}

func TestReviewsMaintainTourRatings(t *testing.T) {
	svc, ctx := fixture(t)

	first, err := svc.CreateReview(ctx, docstore.Document{"review": "Great", "rating": 5.0, "tour": seaID, "user": leadID})
	if err != nil {
		t.Fatalf("CreateReview error: %v", err)
	}
	if _, err := svc.CreateReview(ctx, docstore.Document{"review": "Fine", "rating": 3.0, "tour": seaID, "user": hikerID}); err != nil {
		t.Fatalf("CreateReview error: %v", err)
	}

	ratings := func() (interface{}, interface{}) {
		tour, err := svc.Tours.FindByID(ctx, seaID)
		if err != nil {
			t.Fatalf("FindByID error: %v", err)
		}
		return tour["ratingQuantity"], tour["ratingAverage"]
	}

	if n, avg := ratings(); n != 2.0 || avg != 4.0 {
		t.Fatalf("after create: quantity=%v average=%v", n, avg)
	}

	if _, err := svc.UpdateReview(ctx, first.ID(), docstore.Document{"rating": 4.0}); err != nil {
		t.Fatalf("UpdateReview error: %v", err)
	}
	if n, avg := ratings(); n != 2.0 || avg != 3.5 {
		t.Fatalf("after update: quantity=%v average=%v", n, avg)
	}

	_, err = svc.CreateReview(ctx, docstore.Document{"review": "Again", "rating": 1.0, "tour": seaID, "user": leadID})
	var derr *docstore.DuplicateKeyError
	if !errors.As(err, &derr) {
		t.Fatalf("expected one review per user and tour, got %v", err)
	}

	reviews, err := svc.Reviews.Find(ctx, svc.Reviews.Query().Find(docstore.Predicate{"tour": seaID}))
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	for _, review := range reviews {
		if _, err := svc.DeleteReview(ctx, review.ID()); err != nil {
			t.Fatalf("DeleteReview error: %v", err)
		}
	}
	if n, avg := ratings(); n != 0.0 || avg != DefaultRatingAverage {
		t.Fatalf("after delete: quantity=%v average=%v", n, avg)
	}
}

func TestPopulateReviewUsers(t *testing.T) {
	svc, ctx := fixture(t)

	if _, err := svc.CreateReview(ctx, docstore.Document{"review": "Lovely", "rating": 5.0, "tour": forestID, "user": leadID}); err != nil {
		t.Fatalf("CreateReview error: %v", err)
	}
	reviews, err := svc.Reviews.Find(ctx, svc.Reviews.Query())
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	populated, err := svc.PopulateReviewUsers(ctx, reviews)
	if err != nil {
		t.Fatalf("PopulateReviewUsers error: %v", err)
	}
	user := populated[0]["user"].(map[string]interface{})
	if keys := docstore.Document(user).Keys(); !reflect.DeepEqual(keys, []string{"_id", "name", "photo"}) {
		t.Fatalf("populated user fields %v", keys)
	}
	if reviews[0]["user"] != leadID {
		t.Fatalf("input reviews modified: %v", reviews[0])
	}
}

func TestTourStats(t *testing.T) {
	svc, ctx := fixture(t)

	stats, err := svc.TourStats(ctx)
	if err != nil {
		t.Fatalf("TourStats error: %v", err)
	}

	want := []natoursapi.TourStats{
		{Difficulty: "easy", NumTours: 1, AvgRating: 4.7, AvgPrice: 397, MinPrice: 397, MaxPrice: 397},
		{Difficulty: "medium", NumTours: 1, AvgRating: 4.8, AvgPrice: 497, MinPrice: 497, MaxPrice: 497},
		{Difficulty: "difficult", NumTours: 2, AvgRating: 4.75, AvgPrice: 948.5, MinPrice: 900, MaxPrice: 997},
	}
	if !reflect.DeepEqual(stats, want) {
		t.Fatalf("got %+v\nwant %+v", stats, want)
	}
}

func TestMonthlyPlan(t *testing.T) {
	svc, ctx := fixture(t)

	plan, err := svc.MonthlyPlan(ctx, 2021)
	if err != nil {
		t.Fatalf("MonthlyPlan error: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("got %+v", plan)
	}
	if plan[0].Month != 7 || plan[0].NumToursStarts != 3 {
		t.Fatalf("busiest month = %+v", plan[0])
	}
	if plan[1].Month != 4 || plan[1].NumToursStarts != 2 || plan[2].Month != 3 {
		t.Fatalf("unexpected order %+v", plan)
	}
	for _, entry := range plan {
		for _, name := range entry.Tours {
			if name == "" {
				t.Fatalf("missing tour name in %+v", entry)
			}
		}
	}

	empty, err := svc.MonthlyPlan(ctx, 1999)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty plan, got %+v %v", empty, err)
	}
}

func TestTopCheapAlias(t *testing.T) {
	req := natoursapi.QueryRequest{"difficulty": "easy", "limit": "50"}
	got := TopCheapAlias(req)
	if got["limit"] != "5" || got["sort"] != "-ratingAverage,price" || got["difficulty"] != "easy" {
		t.Fatalf("unexpected alias %v", got)
	}
	if req["limit"] != "50" {
		t.Fatalf("request modified: %v", req)
	}
}

func TestReadDevData(t *testing.T) {
	data, err := ReadDevData(strings.NewReader(`[{"name": "The Forest Hiker"}]`))
	if err != nil || len(data.Tours) != 1 {
		t.Fatalf("bare array: %+v %v", data, err)
	}

	data, err = ReadDevData(strings.NewReader(`{"users": [{"name": "A"}], "reviews": []}`))
	if err != nil || len(data.Users) != 1 || len(data.Tours) != 0 {
		t.Fatalf("object: %+v %v", data, err)
	}

	if _, err := ReadDevData(strings.NewReader(`{"bookings": []}`)); err == nil {
		t.Fatalf("expected unknown collection to be rejected")
	}
}

func TestDeleteAll(t *testing.T) {
	svc, ctx := fixture(t)

	counts, err := svc.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll error: %v", err)
	}
	if counts[ToursCollection] != 5 || counts[UsersCollection] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
	n, err := svc.Tours.Count(ctx, svc.Tours.Query().WithoutMiddleware())
	if err != nil || n != 0 {
		t.Fatalf("tours left: %d %v", n, err)
	}
}
