package errx

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// RedisNotFoundMessage describes a missing cache key.
const RedisNotFoundMessage = "redis key not found"

// WrapRedis maps Redis errors to the unified error type with appropriate status codes.
func WrapRedis(err error) *AppError {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return &AppError{Err: err, Status: http.StatusNotFound, Code: CodeNotFound, Message: RedisNotFoundMessage}
	}

	return &AppError{Err: err, Status: http.StatusBadGateway, Code: CodeSystemError, Message: RedisErrorMessage}
}
