package pathctx

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/ir"
	"github.com/geldata/gel/pkg/pgast"
)

// LookupError reports that a path could not be resolved where it was
// expected to be visible.
type LookupError struct {
	PathID ir.PathID
	Aspect pgast.Aspect
	What   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("there is no %s for %s %s", e.What, e.PathID, e.Aspect)
}

// IsLookupError reports whether err wraps a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

func noRangeVar(pid ir.PathID, aspect pgast.Aspect) error {
	return &LookupError{PathID: pid, Aspect: aspect, What: "range var"}
}

func noOutput(pid ir.PathID, aspect pgast.Aspect) error {
	return &LookupError{PathID: pid, Aspect: aspect, What: "output"}
}
