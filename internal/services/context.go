package services

import "context"

type contextKey string

const (
	episodeIDKey contextKey = "episode_id"
	jobKey       contextKey = "job"
	requestIDKey contextKey = "request_id"
)

// WithEpisodeID attaches an episode identifier to the context for logging.
func WithEpisodeID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, episodeIDKey, id)
}

// EpisodeIDFromContext extracts an episode identifier if present.
func EpisodeIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(episodeIDKey).(int64)
	return id, ok
}

// WithJob attaches a background job name to the context for logging.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey, job)
}

// JobFromContext extracts a background job name if present.
func JobFromContext(ctx context.Context) (string, bool) {
	job, ok := ctx.Value(jobKey).(string)
	return job, ok && job != ""
}

// WithRequestID attaches an API request correlation identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts an API request correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}
