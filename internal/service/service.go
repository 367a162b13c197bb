package service

import (
	"github.com/noah-isme/cohort-portal-api/internal/repository"
)

// cacheKeyStudents is the roster cache key shared by the user and auth
// services; any profile mutation invalidates it.
const cacheKeyStudents = "cache:users:students"

func isUniqueErr(err error) bool {
	return repository.IsUniqueViolation(err)
}
