// Package feed lists published videos with their owners and records new
// video metadata.
package feed

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/paginate"
	"github.com/example/reelhub/internal/store"
	"github.com/example/reelhub/internal/validate"
)

type ListQuery struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Query    string `json:"query" validate:"max=100"`
	SortBy   string `json:"sortBy" validate:"omitempty,oneof=createdAt views title duration"`
	SortType string `json:"sortType" validate:"omitempty,oneof=asc desc"`
	// Owner is a user id or a username.
	Owner string `json:"owner" validate:"max=64"`
}

type CreateVideoInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description" validate:"max=5000"`
	DurationSeconds int64  `json:"durationSeconds" validate:"gte=0"`
	Published       *bool  `json:"published"`
}

var ownerLookup = paginate.Lookup{
	From:         store.UsersSchema,
	LocalField:   "ownerId",
	ForeignField: "id",
	As:           "owner",
	Fields:       []string{"username", "displayName"},
}

type Service struct {
	db        store.DB
	paginator *paginate.Paginator
	validate  *validate.Validator
}

func NewService(db store.DB, p *paginate.Paginator, v *validate.Validator) *Service {
	return &Service{db: db, paginator: p, validate: v}
}

// Pipeline builds the feed pipeline for q: published videos, newest first
// unless q asks otherwise, each with its owner's public profile.
func Pipeline(q ListQuery) paginate.Pipeline {
	p := paginate.Pipeline{
		paginate.Match{Field: "published", Op: paginate.Eq, Value: true},
		ownerLookup,
	}
	if s := strings.TrimSpace(q.Query); s != "" {
		p = append(p, paginate.Match{Field: "title", Op: paginate.Contains, Value: s})
	}
	if owner := strings.TrimSpace(q.Owner); owner != "" {
		if _, err := uuid.Parse(owner); err == nil {
			p = append(p, paginate.Match{Field: "ownerId", Op: paginate.Eq, Value: owner})
		} else {
			p = append(p, paginate.Match{Field: "owner.username", Op: paginate.Eq, Value: owner})
		}
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}
	return append(p, paginate.Sort{Keys: []paginate.SortKey{{Field: sortBy, Desc: q.SortType != "asc"}}})
}

func (s *Service) List(ctx context.Context, q ListQuery) (*paginate.Result, error) {
	if err := s.validate.Struct(q); err != nil {
		return nil, err
	}
	return s.paginator.Paginate(ctx, store.VideosSchema, Pipeline(q), q.Page, q.PageSize)
}

// Create records metadata for a video owned by ownerID. Videos are published
// unless the input says otherwise.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateVideoInput) (*store.Video, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	published := true
	if in.Published != nil {
		published = *in.Published
	}
	v, err := s.db.CreateVideo(ctx, store.NewVideo{
		Title:           in.Title,
		Description:     in.Description,
		DurationSeconds: in.DurationSeconds,
		Published:       published,
		OwnerID:         ownerID,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "owner not found")
	}
	if err != nil {
		return nil, apperr.Internalf(err, "create video")
	}
	return v, nil
}
