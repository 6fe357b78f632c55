package logging

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// TemporalLogger routes Temporal SDK, workflow and activity logs through zap.
type TemporalLogger struct {
	logger *zap.Logger
}

func NewTemporalLogger(logger *zap.Logger) log.Logger {
	return &TemporalLogger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (t *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	t.logger.Debug(msg, fieldsFromKeyvals(keyvals)...)
}

func (t *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	t.logger.Info(msg, fieldsFromKeyvals(keyvals)...)
}

func (t *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	t.logger.Warn(msg, fieldsFromKeyvals(keyvals)...)
}

func (t *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	t.logger.Error(msg, fieldsFromKeyvals(keyvals)...)
}

func (t *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{logger: t.logger.With(fieldsFromKeyvals(keyvals)...)}
}

func fieldsFromKeyvals(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields = append(fields, safeField(key, keyvals[i+1]))
	}
	if len(keyvals)%2 == 1 {
		fields = append(fields, safeField("extra", keyvals[len(keyvals)-1]))
	}
	return fields
}

// safeField avoids zap.Any on kinds that cannot be encoded.
func safeField(key string, val interface{}) (field zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			field = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()
	if val == nil {
		return zap.String(key, "<nil>")
	}
	if err, ok := val.(error); ok {
		return zap.NamedError(key, err)
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func:
		return zap.String(key, "<func>")
	case reflect.Chan:
		return zap.String(key, "<chan>")
	case reflect.UnsafePointer:
		return zap.String(key, "<unsafe.Pointer>")
	default:
		return zap.Any(key, val)
	}
}
