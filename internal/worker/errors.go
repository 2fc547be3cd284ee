package worker

import (
	"errors"
	"fmt"
)

// ErrInvalidPoolSize はプールサイズが1未満の場合に返される
var ErrInvalidPoolSize = errors.New("invalid pool size")

// InvalidPoolSizeError は不正なプールサイズの詳細を持つ
type InvalidPoolSizeError struct {
	Size int
}

func (e *InvalidPoolSizeError) Error() string {
	return fmt.Sprintf("invalid thread pool size %d", e.Size)
}

// Is は errors.Is(err, ErrInvalidPoolSize) を満たすようにする
func (e *InvalidPoolSizeError) Is(target error) bool {
	return target == ErrInvalidPoolSize
}
