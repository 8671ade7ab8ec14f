package natours

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/logging"
	"go.uber.org/zap"
)

// DevData is the content of a development data file. A file holding a bare
// JSON array is read as a list of tours.
type DevData struct {
	Users   []docstore.Document `json:"users"`
	Tours   []docstore.Document `json:"tours"`
	Reviews []docstore.Document `json:"reviews"`
}

func ReadDevData(r io.Reader) (*DevData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rv DevData
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rv.Tours); err != nil {
			return nil, fmt.Errorf("error parsing tour list: %w", err)
		}
		return &rv, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rv); err != nil {
		return nil, fmt.Errorf("error parsing data file: %w", err)
	}
	return &rv, nil
}

// Import stores users, then tours, then reviews, and recomputes the ratings
// of every reviewed tour. It returns the number of documents stored per
// collection.
func (s *Service) Import(ctx context.Context, data *DevData) (map[string]int, error) {
	rv := map[string]int{}

	steps := []struct {
		collection *docstore.Collection
		docs       []docstore.Document
	}{
		{s.Users, data.Users},
		{s.Tours, data.Tours},
		{s.Reviews, data.Reviews},
	}
	for _, step := range steps {
		n, err := step.collection.CreateMany(ctx, step.docs)
		if err != nil {
			return rv, fmt.Errorf("error importing %s: %w", step.collection.Name(), err)
		}
		rv[step.collection.Name()] = n
	}

	reviewed := map[string]bool{}
	for _, review := range data.Reviews {
		tourID, ok := review["tour"].(string)
		if !ok || reviewed[tourID] {
			continue
		}
		reviewed[tourID] = true
		if err := s.CalcAverageRatings(ctx, tourID); err != nil {
			return rv, err
		}
	}

	logging.FromContext(ctx).Info("imported development data",
		zap.Int("users", rv[UsersCollection]),
		zap.Int("tours", rv[ToursCollection]),
		zap.Int("reviews", rv[ReviewsCollection]))
	return rv, nil
}

// DeleteAll empties every collection.
func (s *Service) DeleteAll(ctx context.Context) (map[string]int, error) {
	rv := map[string]int{}
	for _, c := range s.Collections() {
		n, err := c.DeleteAll(ctx)
		if err != nil {
			return rv, fmt.Errorf("error deleting %s: %w", c.Name(), err)
		}
		rv[c.Name()] = n
	}
	return rv, nil
}
