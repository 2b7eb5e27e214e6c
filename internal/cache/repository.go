package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/store"
	"github.com/ashureev/surveysync/internal/telemetry"
)

// Repository decorates a store.Repository with read-through caching of
// environments, products, survey lists, action class lists and people.
// Writes go to the inner repository and then invalidate affected tags.
// Cache failures are logged and fall back to the inner repository.
type Repository struct {
	store.Repository
	cache  Cache
	logger *slog.Logger
}

var _ store.Repository = (*Repository)(nil)

// NewRepository wraps inner with c.
func NewRepository(inner store.Repository, c Cache, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{Repository: inner, cache: c, logger: logger}
}

func readThrough[T any](ctx context.Context, r *Repository, key string, tags func(T) []string, load func() (T, error)) (T, error) {
	if raw, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("Cache get failed", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			telemetry.RecordCacheLookup(true)
			return v, nil
		}
		r.logger.Warn("Cache entry undecodable, reloading", "key", key)
	}
	telemetry.RecordCacheLookup(false)

	v, err := load()
	if err != nil {
		return v, err
	}

	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		// Misses are not cached; the record may be created next.
		return v, nil
	}
	if err := r.cache.Set(ctx, key, raw, tags(v)); err != nil {
		r.logger.Warn("Cache set failed", "key", key, "error", err)
	}
	return v, nil
}

func (r *Repository) invalidate(ctx context.Context, tags ...string) {
	if err := r.cache.InvalidateTags(ctx, tags...); err != nil {
		r.logger.Warn("Cache invalidation failed", "tags", tags, "error", err)
	}
}

// GetEnvironment implements store.Repository.
func (r *Repository) GetEnvironment(ctx context.Context, environmentID string) (*domain.Environment, error) {
	return readThrough(ctx, r, "environment:"+environmentID,
		func(*domain.Environment) []string { return []string{EnvironmentTag(environmentID)} },
		func() (*domain.Environment, error) { return r.Repository.GetEnvironment(ctx, environmentID) },
	)
}

// CreateEnvironment implements store.Repository.
func (r *Repository) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	if err := r.Repository.CreateEnvironment(ctx, env); err != nil {
		return err
	}
	r.invalidate(ctx, EnvironmentTag(env.ID))
	return nil
}

// GetProductByEnvironmentID implements store.Repository.
func (r *Repository) GetProductByEnvironmentID(ctx context.Context, environmentID string) (*domain.Product, error) {
	return readThrough(ctx, r, "product:environment:"+environmentID,
		func(*domain.Product) []string { return []string{EnvironmentTag(environmentID)} },
		func() (*domain.Product, error) { return r.Repository.GetProductByEnvironmentID(ctx, environmentID) },
	)
}

// GetPerson implements store.Repository.
func (r *Repository) GetPerson(ctx context.Context, personID string) (*domain.Person, error) {
	return readThrough(ctx, r, "person:"+personID,
		func(p *domain.Person) []string {
			return []string{PersonTag(personID), EnvironmentTag(p.EnvironmentID)}
		},
		func() (*domain.Person, error) { return r.Repository.GetPerson(ctx, personID) },
	)
}

// SetPersonUserID implements store.Repository.
func (r *Repository) SetPersonUserID(ctx context.Context, personID, userID string) error {
	if err := r.Repository.SetPersonUserID(ctx, personID, userID); err != nil {
		return err
	}
	r.invalidate(ctx, PersonTag(personID))
	return nil
}

// DeletePerson implements store.Repository.
func (r *Repository) DeletePerson(ctx context.Context, personID string) error {
	if err := r.Repository.DeletePerson(ctx, personID); err != nil {
		return err
	}
	r.invalidate(ctx, PersonTag(personID))
	return nil
}

// UpsertPersonAttribute implements store.Repository.
func (r *Repository) UpsertPersonAttribute(ctx context.Context, personID, attributeClassID, value string) error {
	if err := r.Repository.UpsertPersonAttribute(ctx, personID, attributeClassID, value); err != nil {
		return err
	}
	r.invalidate(ctx, PersonTag(personID))
	return nil
}

// GetSurveys implements store.Repository.
func (r *Repository) GetSurveys(ctx context.Context, environmentID string) ([]domain.Survey, error) {
	return readThrough(ctx, r, "surveys:environment:"+environmentID,
		func(surveys []domain.Survey) []string {
			tags := []string{EnvironmentTag(environmentID), EnvironmentSurveysTag(environmentID)}
			for _, s := range surveys {
				tags = append(tags, SurveyTag(s.ID))
			}
			return tags
		},
		func() ([]domain.Survey, error) { return r.Repository.GetSurveys(ctx, environmentID) },
	)
}

// CreateSurvey implements store.Repository.
func (r *Repository) CreateSurvey(ctx context.Context, survey *domain.Survey) error {
	if err := r.Repository.CreateSurvey(ctx, survey); err != nil {
		return err
	}
	r.invalidate(ctx, EnvironmentSurveysTag(survey.EnvironmentID))
	return nil
}

// UpdateSurveyStatus implements store.Repository.
func (r *Repository) UpdateSurveyStatus(ctx context.Context, surveyID string, status domain.SurveyStatus) error {
	if err := r.Repository.UpdateSurveyStatus(ctx, surveyID, status); err != nil {
		return err
	}
	r.invalidate(ctx, SurveyTag(surveyID))
	return nil
}

// GetActionClasses implements store.Repository.
func (r *Repository) GetActionClasses(ctx context.Context, environmentID string) ([]domain.ActionClass, error) {
	return readThrough(ctx, r, "actionClasses:environment:"+environmentID,
		func([]domain.ActionClass) []string {
			return []string{EnvironmentTag(environmentID), EnvironmentActionClassesTag(environmentID)}
		},
		func() ([]domain.ActionClass, error) { return r.Repository.GetActionClasses(ctx, environmentID) },
	)
}

// CreateActionClass implements store.Repository.
func (r *Repository) CreateActionClass(ctx context.Context, actionClass *domain.ActionClass) error {
	if err := r.Repository.CreateActionClass(ctx, actionClass); err != nil {
		return err
	}
	r.invalidate(ctx, EnvironmentActionClassesTag(actionClass.EnvironmentID))
	return nil
}

// CreateAttributeClass implements store.Repository. Survey filters resolve
// attribute class names, so the environment's survey list is invalidated.
func (r *Repository) CreateAttributeClass(ctx context.Context, attributeClass *domain.AttributeClass) error {
	if err := r.Repository.CreateAttributeClass(ctx, attributeClass); err != nil {
		return err
	}
	r.invalidate(ctx, EnvironmentSurveysTag(attributeClass.EnvironmentID))
	return nil
}

// Close closes the cache and the inner repository.
func (r *Repository) Close() error {
	if err := r.cache.Close(); err != nil {
		r.logger.Warn("Cache close failed", "error", err)
	}
	return r.Repository.Close()
}

// ttlOrDefault returns ttl, or five minutes when ttl is not positive.
func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 5 * time.Minute
	}
	return ttl
}

// New builds the configured cache: Redis when addr is set, memory otherwise.
func New(addr, password string, db int, ttl time.Duration) (Cache, error) {
	ttl = ttlOrDefault(ttl)
	if addr == "" {
		return NewMemoryCache(ttl), nil
	}
	return NewRedisCache(RedisConfig{Addr: addr, Password: password, DB: db, TTL: ttl})
}
