// Package natours holds the tour, user and review models and the operations
// that span more than one collection.
package natours

import (
	"context"
	"errors"
	"fmt"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/logging"
	"go.uber.org/zap"
)

type Service struct {
	Tours   *docstore.Collection
	Users   *docstore.Collection
	Reviews *docstore.Collection
}

func New(backend docstore.Backend) *Service {
	return &Service{
		Tours:   docstore.NewCollection(TourSchema(), backend),
		Users:   docstore.NewCollection(UserSchema(), backend),
		Reviews: docstore.NewCollection(ReviewSchema(), backend),
	}
}

func (s *Service) Collections() []*docstore.Collection {
	return []*docstore.Collection{s.Users, s.Tours, s.Reviews}
}

// Collection looks a collection up by name.
func (s *Service) Collection(name string) (*docstore.Collection, bool) {
	for _, c := range s.Collections() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func (s *Service) EnsureIndexes(ctx context.Context) error {
	for _, c := range s.Collections() {
		if err := c.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("error creating indexes for %s: %w", c.Name(), err)
		}
	}
	return nil
}

func idList(v interface{}) []interface{} {
	var rv []interface{}
	switch x := v.(type) {
	case []interface{}:
		for _, elem := range x {
			if s, ok := elem.(string); ok {
				rv = append(rv, s)
			}
		}
	case string:
		rv = append(rv, x)
	}
	return rv
}

func byID(docs []docstore.Document) map[string]docstore.Document {
	rv := make(map[string]docstore.Document, len(docs))
	for _, doc := range docs {
		rv[doc.ID()] = doc
	}
	return rv
}

// PopulateGuides replaces the guide IDs of a tour with the guides' user
// documents, leaving out the version and role fields. IDs of users that no
// longer exist are dropped.
func (s *Service) PopulateGuides(ctx context.Context, tour docstore.Document) (docstore.Document, error) {
	ids := idList(tour["guides"])
	if len(ids) == 0 {
		return tour, nil
	}

	q := s.Users.Query().
		Find(docstore.Predicate{docstore.IDField: map[string]interface{}{"$in": ids}}).
		Select(docstore.Exclude(docstore.VersionField, "role")...)
	users, err := s.Users.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error populating guides: %w", err)
	}

	found := byID(users)
	guides := []interface{}{}
	for _, id := range ids {
		if user, ok := found[id.(string)]; ok {
			guides = append(guides, map[string]interface{}(user))
		}
	}

	rv := tour.Clone()
	rv["guides"] = guides
	return rv, nil
}

// GetTour fetches one tour with its guides populated.
func (s *Service) GetTour(ctx context.Context, id string) (docstore.Document, error) {
	tour, err := s.Tours.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.PopulateGuides(ctx, tour)
}

// PopulateReviewUsers replaces the user ID of each review with the user's
// name and photo.
func (s *Service) PopulateReviewUsers(ctx context.Context, reviews []docstore.Document) ([]docstore.Document, error) {
	var ids []interface{}
	seen := map[string]bool{}
	for _, review := range reviews {
		if id, ok := review["user"].(string); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return reviews, nil
	}

	q := s.Users.Query().
		Find(docstore.Predicate{docstore.IDField: map[string]interface{}{"$in": ids}}).
		Select(docstore.Include("name", "photo")...)
	users, err := s.Users.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error populating review authors: %w", err)
	}
	found := byID(users)

	rv := make([]docstore.Document, len(reviews))
	for i, review := range reviews {
		rv[i] = review
		id, ok := review["user"].(string)
		if !ok {
			continue
		}
		if user, ok := found[id]; ok {
			rv[i] = review.Clone()
			rv[i]["user"] = map[string]interface{}(user)
		}
	}
	return rv, nil
}

// CalcAverageRatings stores the number of reviews of a tour and their mean
// rating on the tour. A tour without reviews gets the default rating back.
func (s *Service) CalcAverageRatings(ctx context.Context, tourID string) error {
	q := s.Reviews.Query().Find(docstore.Predicate{"tour": tourID}).Select(docstore.Include("rating")...)
	reviews, err := s.Reviews.Find(ctx, q)
	if err != nil {
		return fmt.Errorf("error reading reviews of tour %s: %w", tourID, err)
	}

	quantity := 0.0
	average := DefaultRatingAverage
	sum := 0.0
	rated := 0
	for _, review := range reviews {
		quantity++
		if rating, ok := review["rating"].(float64); ok {
			sum += rating
			rated++
		}
	}
	if rated > 0 {
		average = sum / float64(rated)
	}

	_, err = s.Tours.Update(ctx, tourID, docstore.Document{
		"ratingQuantity": quantity,
		"ratingAverage":  average,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		logging.FromContext(ctx).Debug("not updating ratings of hidden or missing tour", zap.String("tour", tourID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("error updating ratings of tour %s: %w", tourID, err)
	}
	return nil
}

func (s *Service) CreateReview(ctx context.Context, input docstore.Document) (docstore.Document, error) {
	review, err := s.Reviews.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if tourID, ok := review["tour"].(string); ok {
		if err := s.CalcAverageRatings(ctx, tourID); err != nil {
			return nil, err
		}
	}
	return review, nil
}

// UpdateReview updates a review and recomputes the ratings of the tour it
// belonged to and, if it moved, the tour it belongs to now.
func (s *Service) UpdateReview(ctx context.Context, id string, changes docstore.Document) (docstore.Document, error) {
	before, err := s.Reviews.FindByID(ctx, id, docstore.Include("tour")...)
	if err != nil {
		return nil, err
	}

	review, err := s.Reviews.Update(ctx, id, changes)
	if err != nil {
		return nil, err
	}

	tours := map[string]bool{}
	for _, doc := range []docstore.Document{before, review} {
		if tourID, ok := doc["tour"].(string); ok && !tours[tourID] {
			tours[tourID] = true
			if err := s.CalcAverageRatings(ctx, tourID); err != nil {
				return nil, err
			}
		}
	}
	return review, nil
}

func (s *Service) DeleteReview(ctx context.Context, id string) (docstore.Document, error) {
	review, err := s.Reviews.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if tourID, ok := review["tour"].(string); ok {
		if err := s.CalcAverageRatings(ctx, tourID); err != nil {
			return nil, err
		}
	}
	return review, nil
}
