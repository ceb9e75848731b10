package service

import (
	"fmt"

	"github.com/okian/credscore/internal/domain/model"
)

// ErrNotStarted is returned by operations called before Start or after Stop.
var ErrNotStarted = fmt.Errorf("service not started: %w", model.ErrUnavailable)
