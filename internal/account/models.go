package account

import "errors"

// ErrExists is returned by Create when the identity already has a record.
var ErrExists = errors.New("usage record already exists")

// CreateInput holds the fields required to provision a usage record at
// signup. Counters always start at zero on the free plan.
type CreateInput struct {
	Identity      string `json:"identity"`
	IsTestAccount bool   `json:"is_test_account"`
}
