package a

type RawPayload interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"

type Payload any

func decodeLegacy(v interface{}) { // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"
	_ = v
}

func decode(v any) {
	_ = v
}

func legacyResult() interface{} { // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"
	return nil
}

func result() any {
	return nil
}

type legacyJob struct {
	Payload interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"
}

type job struct {
	Payload any
}

var legacyColumns map[string]interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"

var columns map[string]any

var legacyArgs []interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"

var args []any

var legacyEvents chan interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"

var events chan any

var legacyBatches map[string][]interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"

var batches map[string][]any

func legacyAssertion() {
	var x interface{} // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"
	_ = x.(string)
}

func assertion() {
	var x any
	_ = x.(string)
}

func legacyPair(a interface{}, b interface{}) { // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)" "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"
	_, _ = a, b
}

func pair(a any, b any) {
	_, _ = a, b
}

func suppressedGeneral() {
	//nolint
	var x interface{}
	_ = x
}

func suppressedSpecific() {
	var x interface{} //nolint:nointerface
	_ = x
}

func suppressedForAnotherLinter() {
	var x interface{} //nolint:otherlinter // want "use 'any' instead of 'interface\\{\\}' \\(available since Go 1.18\\)"
	_ = x
}

// nolint
func suppressedParam(v interface{}) {
	_ = v
}

func suppressedField() {
	type s struct {
		//nolint
		Payload interface{}
	}
	_ = s{}
}

// Non-empty interfaces stay as they are.
type Pinger interface {
	Ping() error
}

func usePinger(v Pinger) {
	_ = v
}

type Store interface {
	Find(id string) (any, error)
	Save(v any) error
}

func useStore(v Store) {
	_ = v
}
