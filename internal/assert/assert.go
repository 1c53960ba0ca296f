package assert

import "fmt"

// NotNil panics when a required dependency was not wired. Optional names
// are included in the panic message to identify the dependency.
func NotNil(value any, names ...any) {
	if value == nil {
		panic(fmt.Sprint(append([]any{"expected value to be not nil "}, names...)...))
	}
}

func NotEmptyStr(str string, names ...any) {
	if str == "" {
		panic(fmt.Sprint(append([]any{"expected string to be non-empty "}, names...)...))
	}
}
