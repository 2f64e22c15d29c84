package device

import (
	"fmt"

	"kikimimi/internal/process"
)

// ExitError は外部コマンドの異常終了を表す
type ExitError struct {
	Binary string
	Status process.ExitStatus
}

func (e *ExitError) Error() string {
	if e.Status.Err != nil {
		return fmt.Sprintf("%s が異常終了しました (code=%d): %v", e.Binary, e.Status.Code, e.Status.Err)
	}
	return fmt.Sprintf("%s が異常終了しました (code=%d)", e.Binary, e.Status.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Status.Err
}
