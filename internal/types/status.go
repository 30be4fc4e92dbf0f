package types

import (
	"fmt"
)

// Status is the lifecycle state shared by soft-deletable rows.
type Status string

const (
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Validate() error {
	switch s {
	case StatusPublished, StatusArchived, StatusDeleted:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}
