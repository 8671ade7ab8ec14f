package natours

import (
	"math"
	"net/mail"
	"time"

	"github.com/steinarvk/natours/lib/docstore"
)

const (
	ToursCollection   = "tours"
	UsersCollection   = "users"
	ReviewsCollection = "reviews"

	DefaultRatingAverage = 4.5
)

var (
	Difficulties = []string{"easy", "medium", "difficult"}
	Roles        = []string{"user", "guide", "lead-guide", "admin"}
)

func now() interface{} {
	return docstore.FormatTime(time.Now())
}

func constant(v interface{}) func() interface{} {
	return func() interface{} { return v }
}

func roundToTenth(v interface{}) interface{} {
	if f, ok := v.(float64); ok {
		return math.Round(f*10) / 10
	}
	return v
}

func geoPointFields(extra ...docstore.Field) []docstore.Field {
	fields := []docstore.Field{
		{Name: "type", Kind: docstore.String, Default: constant("Point"), Enum: []string{"Point"}},
		{Name: "coordinates", Kind: docstore.Number, Array: true},
		{Name: "address", Kind: docstore.String},
		{Name: "description", Kind: docstore.String},
	}
	return append(fields, extra...)
}

func TourSchema() *docstore.Schema {
	return &docstore.Schema{
		Collection: ToursCollection,
		Fields: []docstore.Field{
			{
				Name:            "name",
				Kind:            docstore.String,
				Required:        true,
				RequiredMessage: "A tour must have a name.",
				Unique:          true,
				Trim:            true,
				MaxLength:       docstore.Bound(40, "A tour name must have 40 characters or less."),
				MinLength:       docstore.Bound(10, "A tour name must have at least 10 characters."),
			},
			{Name: "slug", Kind: docstore.String},
			{Name: "duration", Kind: docstore.Number, Required: true, RequiredMessage: "A tour must have a duration"},
			{Name: "maxGroupSize", Kind: docstore.Number, Required: true, RequiredMessage: "A tour must have a group size"},
			{
				Name:            "difficulty",
				Kind:            docstore.String,
				Required:        true,
				RequiredMessage: "A tour must have a difficulty",
				Enum:            Difficulties,
				EnumMessage:     "Difficulty is either: easy, medium or difficult.",
			},
			{
				Name:    "ratingAverage",
				Kind:    docstore.Number,
				Default: constant(DefaultRatingAverage),
				Min:     docstore.Bound(1, "Rating must be at least 1.0"),
				Max:     docstore.Bound(5, "Rating must be below 5.0"),
				Set:     roundToTenth,
			},
			{Name: "ratingQuantity", Kind: docstore.Number, Default: constant(0.0)},
			{Name: "price", Kind: docstore.Number, Required: true, RequiredMessage: "A tour must have a price"},
			{
				Name: "priceDiscount",
				Kind: docstore.Number,
				Validators: []docstore.Validator{{
					Check: func(doc docstore.Document, value interface{}) bool {
						discount, _ := value.(float64)
						price, _ := doc["price"].(float64)
						return discount >= 0 && discount < price*0.1
					},
					Message: "Discount price ({VALUE}) must be between 0 and 10% of regular price",
				}},
			},
			{Name: "summary", Kind: docstore.String, Trim: true, Required: true, RequiredMessage: "A tour must have a summary."},
			{Name: "description", Kind: docstore.String, Trim: true},
			{Name: "imageCover", Kind: docstore.String, Required: true, RequiredMessage: "A tour must have a cover image."},
			{Name: "images", Kind: docstore.String, Array: true},
			{Name: "createdAt", Kind: docstore.Date, Default: now, Hidden: true},
			{Name: "startDates", Kind: docstore.Date, Array: true},
			{Name: "secretTour", Kind: docstore.Boolean, Default: constant(false)},
			{Name: "startLocation", Kind: docstore.Object, Fields: geoPointFields()},
			{
				Name:   "locations",
				Kind:   docstore.Object,
				Array:  true,
				Fields: geoPointFields(docstore.Field{Name: "day", Kind: docstore.Number}),
			},
			{Name: "guides", Kind: docstore.ObjectID, Array: true},
		},
		Indexes: []docstore.Index{
			{Name: "price_1_ratingAverage_-1", Fields: []string{"price", "ratingAverage"}},
			{Name: "slug_1", Fields: []string{"slug"}},
		},
		PreSave: []func(doc docstore.Document) error{
			func(doc docstore.Document) error {
				if name, ok := doc["name"].(string); ok {
					doc["slug"] = Slugify(name)
				}
				return nil
			},
		},
		PreFind: []docstore.Predicate{
			{"secretTour": map[string]interface{}{"$ne": true}},
		},
		Virtuals: []docstore.Virtual{
			{
				Name:     "durationWeeks",
				Requires: []string{"duration"},
				Get: func(doc docstore.Document) interface{} {
					duration, _ := doc["duration"].(float64)
					return duration / 7
				},
			},
		},
	}
}

func validEmail(doc docstore.Document, value interface{}) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func UserSchema() *docstore.Schema {
	return &docstore.Schema{
		Collection: UsersCollection,
		Fields: []docstore.Field{
			{
				Name:            "name",
				Kind:            docstore.String,
				Required:        true,
				RequiredMessage: "A user must have a name.",
				Trim:            true,
				MaxLength:       docstore.Bound(100, "A user name must have 100 characters or less."),
				MinLength:       docstore.Bound(3, "A user name must have at least 3 characters."),
			},
			{
				Name:            "email",
				Kind:            docstore.String,
				Required:        true,
				RequiredMessage: "A user must have an email.",
				Unique:          true,
				Trim:            true,
				Lowercase:       true,
				Validators:      []docstore.Validator{{Check: validEmail, Message: "Please provide a valid email."}},
			},
			{Name: "photo", Kind: docstore.String, Trim: true},
			{Name: "role", Kind: docstore.String, Enum: Roles, Default: constant("user")},
		},
	}
}

func ReviewSchema() *docstore.Schema {
	return &docstore.Schema{
		Collection: ReviewsCollection,
		Fields: []docstore.Field{
			{Name: "review", Kind: docstore.String, Required: true, RequiredMessage: "A review must not be empty."},
			{Name: "rating", Kind: docstore.Number, Min: docstore.Bound(1, ""), Max: docstore.Bound(5, "")},
			{Name: "createdAt", Kind: docstore.Date, Default: now},
			{Name: "tour", Kind: docstore.ObjectID, Required: true, RequiredMessage: "A review must belong to a tour."},
			{Name: "user", Kind: docstore.ObjectID, Required: true, RequiredMessage: "A review must belong to a user."},
		},
		Indexes: []docstore.Index{
			{Name: "tour_1_user_1", Fields: []string{"tour", "user"}, Unique: true},
		},
	}
}
