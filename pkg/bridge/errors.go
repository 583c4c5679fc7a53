package bridge

import (
	"errors"
	"fmt"
)

// LoadStatus is the outcome of loading the environment.
type LoadStatus int

const (
	// StatusOK means WordPress was loaded.
	StatusOK LoadStatus = 0
	// StatusConnectivity means the database could not be reached.
	StatusConnectivity LoadStatus = 1
	// StatusNotInstalled means the database has no WordPress tables.
	StatusNotInstalled LoadStatus = 2
	// StatusNoConfig means no wp-config.php was found.
	StatusNoConfig LoadStatus = 3
	// StatusNotPresent means the path holds no WordPress files.
	StatusNotPresent LoadStatus = 4
)

// String returns a short description of the status.
func (s LoadStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusConnectivity:
		return "database unreachable"
	case StatusNotInstalled:
		return "wordpress not installed"
	case StatusNoConfig:
		return "no wp-config.php"
	case StatusNotPresent:
		return "not a wordpress install"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Code returns the machine-readable error code for the status.
func (s LoadStatus) Code() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusConnectivity:
		return "ENV_CONNECTIVITY"
	case StatusNotInstalled:
		return "ENV_NOT_INSTALLED"
	case StatusNoConfig:
		return "ENV_NO_CONFIG"
	case StatusNotPresent:
		return "ENV_NOT_PRESENT"
	default:
		return "ENV_LOAD_FAILED"
	}
}

// LoadError reports why the environment could not be loaded.
type LoadError struct {
	Status LoadStatus
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load %s: %s", e.Path, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Code returns the status code, so callers can classify the error without
// importing this package.
func (e *LoadError) Code() string {
	return e.Status.Code()
}

// StatusOf returns the load status carried by err: StatusOK for nil and -1
// for errors that are not a *LoadError.
func StatusOf(err error) LoadStatus {
	if err == nil {
		return StatusOK
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.Status
	}
	return LoadStatus(-1)
}
