package http

import (
	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value any) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// ListPage is the value of a bucket listing. Next is the cursor for the
// following page and is empty on the last one.
type ListPage struct {
	Entries []bucketdb.Entry `json:"entries"`
	Next    *bucket.ID       `json:"next,omitempty"`
}

// ChildrenValue answers the children endpoint.
type ChildrenValue struct {
	Count    int              `json:"count"`
	Children []bucketdb.Entry `json:"children"`
}

// AppropriateRequest asks for the bucket a document (or a raw bucket id)
// should be stored in.
type AppropriateRequest struct {
	MinBits *uint8     `json:"min_bits,omitempty"`
	Doc     string     `json:"doc,omitempty"`
	ID      *bucket.ID `json:"id,omitempty"`
}
