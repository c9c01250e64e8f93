package cleanlab

import "fmt"

// ConfigurationError reports an unknown name: pruning method, network, loss,
// or dataset subset. It is fatal and never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

// Configurationf creates a ConfigurationError with printf-style formatting.
func Configurationf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// DataShapeError reports mismatched array lengths or a probability matrix of
// the wrong width. It is fatal for the current pass.
type DataShapeError struct {
	Msg string
}

func (e *DataShapeError) Error() string {
	return e.Msg
}

// DataShapef creates a DataShapeError with printf-style formatting.
func DataShapef(format string, args ...any) error {
	return &DataShapeError{Msg: fmt.Sprintf(format, args...)}
}
