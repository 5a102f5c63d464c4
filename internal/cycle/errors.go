package cycle

import (
	"fmt"
	"reflect"
	"strings"
)

// MissingDependencyError 一次性列出所有缺失的必需协作者。
type MissingDependencyError struct {
	Missing []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("cycle runner: missing required dependencies: %s", strings.Join(e.Missing, ", "))
}

// isNil 同时识别接口本身为 nil 与持有 nil 指针的接口。
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
