package dberrors

import "errors"

var (
	ErrNotFound        = errors.New("bucketdb: not found")
	ErrClosed          = errors.New("bucketdb: closed")
	ErrInvalidArgument = errors.New("bucketdb: invalid argument")
	ErrInvalidBucket   = errors.New("bucketdb: invalid bucket id")
)
