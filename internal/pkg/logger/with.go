package logger

// Fielded emits through the default logger with a fixed set of fields
// prepended to every entry.
type Fielded struct {
	fields []interface{}
}

// With returns a Fielded logger carrying the given key-value pairs.
func With(fields ...interface{}) *Fielded {
	return &Fielded{fields: fields}
}

func (f *Fielded) combine(fields []interface{}) []interface{} {
	out := make([]interface{}, 0, len(f.fields)+len(fields))
	out = append(out, f.fields...)
	return append(out, fields...)
}

// Debug emits a DEBUG-level entry with the attached fields.
func (f *Fielded) Debug(msg string, fields ...interface{}) {
	defaultLogger.log(DEBUG, msg, f.combine(fields)...)
}

// Info emits an INFO-level entry with the attached fields.
func (f *Fielded) Info(msg string, fields ...interface{}) {
	defaultLogger.log(INFO, msg, f.combine(fields)...)
}

// Warn emits a WARN-level entry with the attached fields.
func (f *Fielded) Warn(msg string, fields ...interface{}) {
	defaultLogger.log(WARN, msg, f.combine(fields)...)
}

// Error emits an ERROR-level entry with the attached fields.
func (f *Fielded) Error(msg string, fields ...interface{}) {
	defaultLogger.log(ERROR, msg, f.combine(fields)...)
}
