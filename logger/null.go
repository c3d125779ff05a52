package logger

// Null discards everything. Useful in tests and benchmarks.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (Null) Error(string, ...any) {}
func (Null) Info(string, ...any)  {}
func (Null) Debug(string, ...any) {}
