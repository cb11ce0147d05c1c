package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap SugaredLogger and scrubs credentials and personal data from
// structured fields before they are written.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
	scrub         *scrubber
}

// Options controls encoder, level and field scrubbing. Zero values fall back to
// the LOG_LEVEL, LOG_REDACTION_ENABLED and LOG_HASH_SALT environment variables.
type Options struct {
	Mode      string
	Level     string
	Redaction *bool
	HashSalt  string
}

// New builds a zap-backed logger. mode "prod"/"production" selects the JSON
// encoder; anything else uses the console development encoder.
func New(mode string) (*Logger, error) {
	return NewWithOptions(Options{Mode: mode})
}

func NewWithOptions(opts Options) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Sugar(), scrub: newScrubber(opts)}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), scrub: &scrubber{}}
}

func parseLevel(raw string) zapcore.Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zap.DebugLevel
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return zap.DebugLevel
	}
	return lvl
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.SugaredLogger.Debugw(msg, l.scrub.fields(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.SugaredLogger.Infow(msg, l.scrub.fields(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.SugaredLogger.Warnw(msg, l.scrub.fields(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.SugaredLogger.Errorw(msg, l.scrub.fields(kv)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.SugaredLogger.Fatalw(msg, l.scrub.fields(kv)...) }

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(l.scrub.fields(kv)...), scrub: l.scrub}
}

// Named tags every entry with a component name, e.g. "worker" or "crawler".
func (l *Logger) Named(component string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(component), scrub: l.scrub}
}

type scrubber struct {
	enabled bool
	salt    string
}

func newScrubber(opts Options) *scrubber {
	s := &scrubber{enabled: true, salt: opts.HashSalt}
	if opts.Redaction != nil {
		s.enabled = *opts.Redaction
	} else {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
		case "0", "false", "no", "off":
			s.enabled = false
		}
	}
	if s.salt == "" {
		s.salt = strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))
	}
	return s
}

func (s *scrubber) fields(kv []interface{}) []interface{} {
	if s == nil || !s.enabled || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			out = append(out, kv[i])
			break
		}
		name := stringify(kv[i])
		out = append(out, name, s.value(normKey(name), kv[i+1]))
	}
	return out
}

func (s *scrubber) value(key string, v interface{}) interface{} {
	switch {
	case key == "":
		return v
	case secretKey(key):
		return "[REDACTED]"
	case personalKey(key):
		return s.hash(v)
	}
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = s.value(normKey(k), inner)
		}
		return out
	case string:
		if signedURL(t) {
			return dropQuery(t)
		}
	}
	return v
}

var secretFragments = []string{"token", "authorization", "password", "secret", "api_key", "apikey", "access_key", "cookie"}

func secretKey(key string) bool {
	for _, f := range secretFragments {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

// Owner and contact identifiers are hashed so entries stay correlatable.
func personalKey(key string) bool {
	return strings.Contains(key, "user_id") || strings.Contains(key, "email") || strings.Contains(key, "owner_id")
}

func (s *scrubber) hash(v interface{}) string {
	raw := stringify(v)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

// Presigned S3/GCS URLs carry credentials in the query string.
func signedURL(s string) bool {
	return strings.HasPrefix(s, "http") &&
		(strings.Contains(s, "X-Amz-Signature=") || strings.Contains(s, "X-Goog-Signature="))
}

func dropQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i] + "?[REDACTED]"
	}
	return s
}

func normKey(k string) string { return strings.ToLower(strings.TrimSpace(k)) }

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
