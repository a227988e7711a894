// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать основное приложение. Поддерживается логирование времени выполнения функций.
// Запись идёт через zerolog/diode: при переполнении буфера сообщения теряются, вызывающий не ждёт.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	out      io.Writer
	base     zerolog.Logger
	once     sync.Once
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	}
	return levelInfo
}

func initLevel() {
	logLevel = parseLevel(os.Getenv("LOG_LEVEL"))
}

func debugEnabled() bool {
	once.Do(initWorker)
	mu.RLock()
	defer mu.RUnlock()
	return logLevel == levelDebug
}

func initWorker() {
	mu.Lock()
	defer mu.Unlock()
	initLevel()
	if out == nil {
		out = diode.NewWriter(os.Stderr, asyncBufferSize, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger: dropped %d messages\n", missed)
		})
	}
	rebuild()
}

// rebuild пересобирает базовый логгер; вызывается под mu.
func rebuild() {
	ctx := zerolog.New(out).With().Timestamp()
	if prefix != "" {
		ctx = ctx.Str("svc", prefix)
	}
	base = ctx.Logger()
}

func current() *zerolog.Logger {
	once.Do(initWorker)
	mu.RLock()
	l := base
	mu.RUnlock()
	return &l
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "push").
func SetPrefix(p string) {
	once.Do(initWorker)
	mu.Lock()
	prefix = p
	rebuild()
	mu.Unlock()
}

// SetOutput перенаправляет логи в w синхронно (тесты, CLI).
func SetOutput(w io.Writer) {
	once.Do(initWorker)
	mu.Lock()
	out = w
	rebuild()
	mu.Unlock()
}

// SetLevel переопределяет уровень из конфигурации ("debug" или "info").
func SetLevel(l string) {
	once.Do(initWorker)
	mu.Lock()
	logLevel = parseLevel(l)
	mu.Unlock()
}

// Flush дописывает буфер асинхронного writer перед выходом процесса.
// После Flush логи пишутся синхронно в stderr.
func Flush() {
	once.Do(initWorker)
	mu.Lock()
	defer mu.Unlock()
	if c, ok := out.(io.Closer); ok && out != io.Writer(os.Stderr) {
		_ = c.Close()
		out = os.Stderr
		rebuild()
	}
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	current().Info().Msg(fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	current().Info().Msgf(format, v...)
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if !debugEnabled() {
		return
	}
	current().Debug().Msgf(format, v...)
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	current().Error().Msg(fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	current().Error().Msgf(format, v...)
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if elapsed >= 100*time.Millisecond || debugEnabled() {
		current().Info().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Msg("duration")
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
