package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

// TagStore persists cached payloads and the tag index used to invalidate
// them. Implemented by the Redis and in-memory cache repositories.
type TagStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

// ListTagID is the sentinel id marking "any list of this type".
const ListTagID = "LIST"

// Tag is a cache tag: a type plus either an entity id or ListTagID.
type Tag struct {
	Type string
	ID   string
}

func (t Tag) String() string { return t.Type + ":" + t.ID }

// Tag types.
const (
	TagTypeSubmission = "Submission"
	TagTypeMonitoring = "Monitoring"
	TagTypePendingMDA = "PendingMDA"
)

// SubmissionTagType scopes submission tags per form so an MRF mutation does
// not evict MDA lists.
func SubmissionTagType(form models.FormCode) string {
	return TagTypeSubmission + "/" + string(form)
}

// MonitoringTagType is the monitoring counterpart of SubmissionTagType.
func MonitoringTagType(form models.FormCode) string {
	return TagTypeMonitoring + "/" + string(form)
}

// ListTag is the LIST sentinel for a type.
func ListTag(tagType string) Tag { return Tag{Type: tagType, ID: ListTagID} }

// ItemTag is the per-entity tag for a type.
func ItemTag(tagType, id string) Tag { return Tag{Type: tagType, ID: id} }

// Mutation kinds that invalidate cached reads.
type Mutation string

const (
	MutationCreate   Mutation = "create"
	MutationUpdate   Mutation = "update"
	MutationResubmit Mutation = "resubmit"
	MutationCancel   Mutation = "cancel"
	MutationApprove  Mutation = "approve"
	MutationReject   Mutation = "reject"
	MutationStart    Mutation = "start"
	MutationComplete Mutation = "complete"
)

type invalidationRule struct {
	item bool
	// pendingMDA names the forms whose mutation changes the pending-MDA list.
	pendingMDA []models.FormCode
}

// invalidationRules maps each mutation kind to the tags it evicts. Every
// mutation evicts the LIST sentinels of the submission and monitoring types.
var invalidationRules = map[Mutation]invalidationRule{
	MutationCreate:   {pendingMDA: []models.FormCode{models.FormMDA}},
	MutationUpdate:   {item: true},
	MutationResubmit: {item: true},
	MutationCancel:   {item: true},
	MutationApprove:  {item: true, pendingMDA: []models.FormCode{models.FormDataChange}},
	MutationReject:   {item: true},
	MutationStart:    {item: true},
	MutationComplete: {item: true, pendingMDA: []models.FormCode{models.FormDataChange}},
}

// InvalidationTags returns the tags a mutation evicts, sorted.
func InvalidationTags(kind Mutation, form models.FormCode, id string) []Tag {
	rule, ok := invalidationRules[kind]
	if !ok {
		rule = invalidationRule{item: true}
	}
	tags := []Tag{ListTag(SubmissionTagType(form)), ListTag(MonitoringTagType(form))}
	if rule.item && id != "" {
		tags = append(tags, ItemTag(SubmissionTagType(form), id), ItemTag(MonitoringTagType(form), id))
	}
	for _, f := range rule.pendingMDA {
		if f == form {
			tags = append(tags, ListTag(TagTypePendingMDA))
			break
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].String() < tags[j].String() })
	return tags
}

// CacheService is the read-through cache in front of upstream reads. Entries
// are partitioned by session subject because the backend filters by caller.
type CacheService struct {
	store      TagStore
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(store TagStore, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{store: store, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.store != nil
}

// Key builds a cache key from the subject and request parts.
func Key(subject string, parts ...string) string {
	return "u:" + subject + "|" + strings.Join(parts, "|")
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.store.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value under the given tags.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, tags ...Tag) error {
	if !s.Enabled() {
		return nil
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.String()
	}
	start := time.Now()
	err := s.store.Set(ctx, key, value, s.defaultTTL, names...)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate evicts everything a mutation affects. Failures are logged and
// returned, but a stale cache never blocks the mutation itself.
func (s *CacheService) Invalidate(ctx context.Context, kind Mutation, form models.FormCode, id string) error {
	if !s.Enabled() {
		return nil
	}
	tags := InvalidationTags(kind, form, id)
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.String()
	}
	removed, err := s.store.InvalidateTags(ctx, names...)
	s.metrics.RecordInvalidation(string(kind))
	if err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("mutation", string(kind)), zap.Strings("tags", names), zap.Error(err))
		return err
	}
	s.logger.Debug("cache invalidated", zap.String("mutation", string(kind)), zap.Strings("tags", names), zap.Int("keys", removed))
	return nil
}

// cached is the read-through helper used by services.
func cached[T any](ctx context.Context, cache *CacheService, key string, tags []Tag, load func(context.Context) (T, error)) (T, error) {
	var out T
	if hit, _ := cache.Get(ctx, key, &out); hit {
		return out, nil
	}
	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	_ = cache.Set(ctx, key, out, tags...)
	return out, nil
}
