package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/steinarvk/natours/lib/apierror"
	"github.com/steinarvk/natours/lib/apifeatures"
	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/natours"
	"github.com/steinarvk/natours/lib/natoursapi"
)

type populateFunc func(ctx context.Context, docs []docstore.Document) ([]docstore.Document, error)

type createFunc func(ctx context.Context, input docstore.Document) (docstore.Document, error)

type updateFunc func(ctx context.Context, id string, changes docstore.Document) (docstore.Document, error)

type deleteFunc func(ctx context.Context, id string) (docstore.Document, error)

func (s *Server) registerTourRoutes(api *mux.Router) {
	tours := s.service.Tours

	api.Handle("/tours/top-5-cheap", s.apiHandler(s.listHandler(tours, nil, natours.TopCheapAlias, nil))).Methods(http.MethodGet)
	api.Handle("/tours/tour-stats", s.apiHandler(s.tourStats)).Methods(http.MethodGet)
	api.Handle("/tours/monthly-plan/{year}", s.apiHandler(s.monthlyPlan)).Methods(http.MethodGet)

	api.Handle("/tours/{tourId}/reviews", s.apiHandler(s.listHandler(s.service.Reviews, reviewsOfTour, nil, s.service.PopulateReviewUsers))).Methods(http.MethodGet)
	api.Handle("/tours/{tourId}/reviews", s.apiHandler(s.createTourReview)).Methods(http.MethodPost)

	api.Handle("/tours", s.apiHandler(s.listHandler(tours, nil, nil, nil))).Methods(http.MethodGet)
	api.Handle("/tours", s.apiHandler(s.createHandler(tours.Create))).Methods(http.MethodPost)
	api.Handle("/tours/{id}", s.apiHandler(s.getHandler(s.service.GetTour))).Methods(http.MethodGet)
	api.Handle("/tours/{id}", s.apiHandler(s.updateHandler(tours.Update))).Methods(http.MethodPatch)
	api.Handle("/tours/{id}", s.apiHandler(s.deleteHandler(tours.Delete))).Methods(http.MethodDelete)
}

func (s *Server) registerReviewRoutes(api *mux.Router) {
	reviews := s.service.Reviews

	api.Handle("/reviews", s.apiHandler(s.listHandler(reviews, nil, nil, s.service.PopulateReviewUsers))).Methods(http.MethodGet)
	api.Handle("/reviews", s.apiHandler(s.createHandler(s.service.CreateReview))).Methods(http.MethodPost)
	api.Handle("/reviews/{id}", s.apiHandler(s.getHandler(s.getReview))).Methods(http.MethodGet)
	api.Handle("/reviews/{id}", s.apiHandler(s.updateHandler(s.service.UpdateReview))).Methods(http.MethodPatch)
	api.Handle("/reviews/{id}", s.apiHandler(s.deleteHandler(s.service.DeleteReview))).Methods(http.MethodDelete)
}

func (s *Server) registerUserRoutes(api *mux.Router) {
	users := s.service.Users

	api.Handle("/users", s.apiHandler(s.listHandler(users, nil, nil, nil))).Methods(http.MethodGet)
	api.Handle("/users", s.apiHandler(s.createHandler(users.Create))).Methods(http.MethodPost)
	api.Handle("/users/{id}", s.apiHandler(s.getHandler(func(ctx context.Context, id string) (docstore.Document, error) {
		return users.FindByID(ctx, id)
	}))).Methods(http.MethodGet)
	api.Handle("/users/{id}", s.apiHandler(s.updateHandler(users.Update))).Methods(http.MethodPatch)
	api.Handle("/users/{id}", s.apiHandler(s.deleteHandler(users.Delete))).Methods(http.MethodDelete)
}

func reviewsOfTour(r *http.Request) docstore.Predicate {
	return docstore.Predicate{"tour": mux.Vars(r)["tourId"]}
}

// listHandler serves a collection through the query feature builder. scope
// restricts the documents a route can see; alias rewrites the query string
// before it is read.
func (s *Server) listHandler(
	c *docstore.Collection,
	scope func(r *http.Request) docstore.Predicate,
	alias func(natoursapi.QueryRequest) natoursapi.QueryRequest,
	populate populateFunc,
) apiHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		request := natoursapi.ParseQuery(r.URL.Query())
		if alias != nil {
			request = alias(request)
		}

		query := c.Query()
		if scope != nil {
			query = query.Find(scope(r))
		}

		features := apifeatures.New(query, request, s.features...).
			Filter().
			Sort().
			LimitFields().
			Paginate()

		docs, err := c.Find(r.Context(), features.Query)
		if err != nil {
			return err
		}

		if populate != nil {
			docs, err = populate(r.Context(), docs)
			if err != nil {
				return err
			}
		}

		return writeJSON(w, http.StatusOK, natoursapi.NewListResponse(docs))
	}
}

func (s *Server) getHandler(get func(ctx context.Context, id string) (docstore.Document, error)) apiHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		doc, err := get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, natoursapi.DocumentResponse{Status: natoursapi.StatusSuccess, Data: doc})
	}
}

func (s *Server) createHandler(create createFunc) apiHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		body, err := s.readBody(w, r)
		if err != nil {
			return err
		}
		doc, err := create(r.Context(), body)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusCreated, natoursapi.CreatedResponse{
			Status: natoursapi.StatusSuccess,
			Data:   natoursapi.CreatedData{Data: doc},
		})
	}
}

func (s *Server) updateHandler(update updateFunc) apiHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		body, err := s.readBody(w, r)
		if err != nil {
			return err
		}
		if _, ok := body["password"]; ok {
			return apierror.BadRequest("Password changes not allowed in this route.")
		}
		if _, ok := body["passwordConfirm"]; ok {
			return apierror.BadRequest("Password changes not allowed in this route.")
		}

		doc, err := update(r.Context(), mux.Vars(r)["id"], body)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, natoursapi.DocumentResponse{Status: natoursapi.StatusSuccess, Data: doc})
	}
}

func (s *Server) deleteHandler(del deleteFunc) apiHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if _, err := del(r.Context(), mux.Vars(r)["id"]); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

// readBody decodes a JSON object body of at most maxBodyBytes.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (docstore.Document, error) {
	if r.Body == nil {
		return docstore.Document{}, nil
	}
	reader := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var body docstore.Document
	err := json.NewDecoder(reader).Decode(&body)

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return docstore.Document{}, nil
	case errors.As(err, &maxBytesErr):
		return nil, apierror.New(
			apierror.WithErrorID("body-too-large"),
			apierror.WithHTTPCode(http.StatusRequestEntityTooLarge),
			apierror.WithPublicMessage(fmt.Sprintf("Request body exceeds %d bytes", maxBytesErr.Limit)),
		)
	case err != nil:
		return nil, apierror.New(
			apierror.WithErrorID("bad-json"),
			apierror.WithHTTPCode(http.StatusBadRequest),
			apierror.WithPublicMessage("Request body must be a JSON object"),
			apierror.WithCause(err),
		)
	}
	if body == nil {
		body = docstore.Document{}
	}
	return body, nil
}

// createTourReview creates a review of the tour named in the path unless
// the body names one itself.
func (s *Server) createTourReview(w http.ResponseWriter, r *http.Request) error {
	tourID := mux.Vars(r)["tourId"]
	return s.createHandler(func(ctx context.Context, input docstore.Document) (docstore.Document, error) {
		if _, ok := input["tour"]; !ok {
			input["tour"] = tourID
		}
		return s.service.CreateReview(ctx, input)
	})(w, r)
}

func (s *Server) getReview(ctx context.Context, id string) (docstore.Document, error) {
	review, err := s.service.Reviews.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	populated, err := s.service.PopulateReviewUsers(ctx, []docstore.Document{review})
	if err != nil {
		return nil, err
	}
	return populated[0], nil
}

func (s *Server) tourStats(w http.ResponseWriter, r *http.Request) error {
	stats, err := s.service.TourStats(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, natoursapi.TourStatsResponse{
		Status: natoursapi.StatusSuccess,
		Data:   natoursapi.TourStatsData{Stats: stats},
	})
}

func (s *Server) monthlyPlan(w http.ResponseWriter, r *http.Request) error {
	raw := mux.Vars(r)["year"]
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1 || year > 9999 {
		return apierror.BadRequest(fmt.Sprintf("Invalid year: %s.", raw))
	}

	plan, err := s.service.MonthlyPlan(r.Context(), year)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, natoursapi.MonthlyPlanResponse{
		Status:  natoursapi.StatusSuccess,
		Results: len(plan),
		Data:    natoursapi.MonthlyPlanData{Plan: plan},
	})
}
