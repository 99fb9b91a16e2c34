package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crytic/warden/logging/colors"
	"github.com/rs/zerolog"
)

// GlobalLogger describes a Logger that is disabled by default and is instantiated when a scan is created. Each package
// should create its own sub-logger so log output can be filtered by service.
var GlobalLogger = NewLogger(zerolog.Disabled)

// Logger describes a custom logging object that can log events to any arbitrary channel in structured, unstructured,
// or colorized unstructured format.
type Logger struct {
	// level describes the log level
	level zerolog.Level

	// context holds the key-value pairs attached by NewSubLogger, re-applied whenever the writers change.
	context []contextField

	// structuredLogger is the logger that outputs JSON log events
	structuredLogger zerolog.Logger

	// unstructuredLogger is the logger that outputs plain-text log events with no ANSI coloring
	unstructuredLogger zerolog.Logger

	// unstructuredColorLogger is the logger that outputs colorized plain-text log events, typically to console
	unstructuredColorLogger zerolog.Logger

	// structuredWriters are the writers that receive JSON output
	structuredWriters []io.Writer

	// unstructuredWriters are the writers that receive plain-text output
	unstructuredWriters []io.Writer

	// unstructuredColorWriters are the writers that receive colorized plain-text output
	unstructuredColorWriters []io.Writer
}

// contextField is a key-value pair attached to every event of a sub-logger.
type contextField struct {
	key   string
	value string
}

// LogFormat describes what format to log in
type LogFormat string

const (
	// STRUCTURED describes that logging should be done in structured JSON format
	STRUCTURED LogFormat = "structured"
	// UNSTRUCTURED describes that logging should be done in an unstructured format
	UNSTRUCTURED LogFormat = "unstructured"
)

// StructuredLogInfo describes a key-value mapping that can be used to log structured data
type StructuredLogInfo map[string]any

// NewLogger will create a new Logger object with a specific log level. Writers are attached afterwards with
// AddWriter.
func NewLogger(level zerolog.Level) *Logger {
	l := &Logger{level: level}
	l.rebuild()
	return l
}

// NewSubLogger will create a new Logger with unique context in the form of a key-value pair. The sub-logger shares
// the writers of its parent at the time of creation.
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	context := make([]contextField, len(l.context), len(l.context)+1)
	copy(context, l.context)
	sub := &Logger{
		level:                    l.level,
		context:                  append(context, contextField{key: key, value: value}),
		structuredWriters:        l.structuredWriters,
		unstructuredWriters:      l.unstructuredWriters,
		unstructuredColorWriters: l.unstructuredColorWriters,
	}
	sub.rebuild()
	return sub
}

// rebuild recreates the underlying zerolog loggers from the current writers, level and context.
func (l *Logger) rebuild() {
	build := func(writers []io.Writer, timestamp bool) zerolog.Logger {
		if len(writers) == 0 {
			return zerolog.New(io.Discard).Level(zerolog.Disabled)
		}
		ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(l.level).With()
		if timestamp {
			ctx = ctx.Timestamp()
		}
		for _, field := range l.context {
			ctx = ctx.Str(field.key, field.value)
		}
		return ctx.Logger()
	}

	plain := make([]io.Writer, len(l.unstructuredWriters))
	for i, w := range l.unstructuredWriters {
		plain[i] = setupDefaultFormatting(zerolog.ConsoleWriter{Out: w, NoColor: true}, l.level)
	}
	colored := make([]io.Writer, len(l.unstructuredColorWriters))
	for i, w := range l.unstructuredColorWriters {
		colored[i] = setupDefaultFormatting(zerolog.ConsoleWriter{Out: w}, l.level)
	}

	l.structuredLogger = build(l.structuredWriters, true)
	l.unstructuredLogger = build(plain, false)
	l.unstructuredColorLogger = build(colored, false)
}

// AddWriter will add a writer to the list of channels where log output will be sent. Colorization only applies to
// unstructured output. Adding a writer that is already present is a no-op.
func (l *Logger) AddWriter(writer io.Writer, format LogFormat, colored bool) {
	writers := l.writersFor(format, colored)
	for _, w := range *writers {
		if w == writer {
			return
		}
	}
	*writers = append(*writers, writer)
	l.rebuild()
}

// RemoveWriter will remove a writer from the list of writers that the logger manages. If the writer does not exist,
// this function is a no-op.
func (l *Logger) RemoveWriter(writer io.Writer, format LogFormat, colored bool) {
	writers := l.writersFor(format, colored)
	for i, w := range *writers {
		if w == writer {
			*writers = append((*writers)[:i:i], (*writers)[i+1:]...)
			l.rebuild()
			return
		}
	}
}

// writersFor returns the writer list for a given format and colorization.
func (l *Logger) writersFor(format LogFormat, colored bool) *[]io.Writer {
	if format == STRUCTURED {
		return &l.structuredWriters
	}
	if colored {
		return &l.unstructuredColorWriters
	}
	return &l.unstructuredWriters
}

// Level will get the log level of the Logger
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel will update the log level of the Logger
func (l *Logger) SetLevel(level zerolog.Level) {
	l.level = level
	l.rebuild()
}

// Trace is a wrapper function that will log a trace event
func (l *Logger) Trace(args ...any) {
	l.log(zerolog.TraceLevel, args...)
}

// Debug is a wrapper function that will log a debug event
func (l *Logger) Debug(args ...any) {
	l.log(zerolog.DebugLevel, args...)
}

// Info is a wrapper function that will log an info event
func (l *Logger) Info(args ...any) {
	l.log(zerolog.InfoLevel, args...)
}

// Warn is a wrapper function that will log a warning event
func (l *Logger) Warn(args ...any) {
	l.log(zerolog.WarnLevel, args...)
}

// Error is a wrapper function that will log an error event
func (l *Logger) Error(args ...any) {
	l.log(zerolog.ErrorLevel, args...)
}

// Panic is a wrapper function that will log a panic event and then panic
func (l *Logger) Panic(args ...any) {
	l.log(zerolog.PanicLevel, args...)
}

// log builds the messages for a log event and sends it to every channel.
func (l *Logger) log(level zerolog.Level, args ...any) {
	// Build the messages and retrieve any error or associated structured log info
	colorMsg, plainMsg, err, info := buildMsgs(args...)

	// Instantiate log events
	structuredLog := l.structuredLogger.WithLevel(level)
	unstructuredLog := l.unstructuredLogger.WithLevel(level)
	colorLog := l.unstructuredColorLogger.WithLevel(level)

	// Chain the error, adding stack traces when debugging or panicking
	withStack := l.level <= zerolog.DebugLevel || level == zerolog.PanicLevel
	for _, event := range []*zerolog.Event{structuredLog, unstructuredLog, colorLog} {
		event.Err(err)
		if withStack {
			event.Stack()
		}
		if info != nil {
			event.Any("info", info)
		}
	}

	// Send off the logs. The structured message is deferred so it is delivered even if a panic is being logged.
	defer structuredLog.Msg(plainMsg)
	unstructuredLog.Msg(plainMsg)
	colorLog.Msg(colorMsg)
	if level == zerolog.PanicLevel {
		panic(plainMsg)
	}
}

// buildMsgs describes a function that takes in a variadic list of arguments of any type and returns two strings and,
// optionally, an error and a StructuredLogInfo object. The first string will be a colorized-string that can be used for
// console logging while the second string will be a non-colorized one that can be used for file/structured logging.
// The error and the StructuredLogInfo can be used to add additional context to log messages
func buildMsgs(args ...any) (string, string, error, StructuredLogInfo) {
	// Guard clause
	if len(args) == 0 {
		return "", "", nil, nil
	}

	// Initialize the base color context, the string buffers and the structured log info object
	colorCtx := colors.Reset
	colorOutput := make([]string, 0)
	plainOutput := make([]string, 0)
	var info StructuredLogInfo
	var err error

	// Iterate through each argument in the list and switch on type
	for _, arg := range args {
		switch t := arg.(type) {
		case colors.ColorFunc:
			// If the argument is a color function, switch the current color context
			colorCtx = t
		case StructuredLogInfo:
			// Note that only one structured log info can be provided for each log message
			info = t
		case error:
			// Note that only one error can be provided for each log message
			err = t
		default:
			// In the base case, append the object to the two string buffers. The colorized buffer will have the
			// current color context applied to it.
			colorOutput = append(colorOutput, colorCtx(t))
			plainOutput = append(plainOutput, fmt.Sprintf("%v", t))
		}
	}

	return strings.Join(colorOutput, ""), strings.Join(plainOutput, ""), err, info
}

// setupDefaultFormatting will update a console writer's formatting to the warden standard
func setupDefaultFormatting(writer zerolog.ConsoleWriter, level zerolog.Level) zerolog.ConsoleWriter {
	// Get rid of the timestamp for console output
	writer.FormatTimestamp = func(i interface{}) string {
		return ""
	}

	// Messages are already colorized by buildMsgs where requested
	writer.FormatMessage = func(i any) string {
		if i == nil {
			return ""
		}
		return fmt.Sprintf("%v", i)
	}

	// We will define a custom format for each level
	writer.FormatLevel = func(i any) string {
		name, _ := i.(string)
		level, err := zerolog.ParseLevel(name)
		if err != nil {
			return name
		}

		// Switch on the level and return a custom string, colored unless the writer disables it
		paint := func(color colors.ColorFunc, s any) string {
			if writer.NoColor {
				return fmt.Sprintf("%v", s)
			}
			return color(s)
		}
		switch level {
		case zerolog.TraceLevel:
			return paint(colors.CyanBold, zerolog.LevelTraceValue)
		case zerolog.DebugLevel:
			return paint(colors.BlueBold, zerolog.LevelDebugValue)
		case zerolog.InfoLevel:
			return paint(colors.GreenBold, colors.LEFT_ARROW)
		case zerolog.WarnLevel:
			return paint(colors.YellowBold, zerolog.LevelWarnValue)
		case zerolog.ErrorLevel:
			return paint(colors.RedBold, zerolog.LevelErrorValue)
		case zerolog.FatalLevel:
			return paint(colors.RedBold, zerolog.LevelFatalValue)
		case zerolog.PanicLevel:
			return paint(colors.RedBold, zerolog.LevelPanicValue)
		default:
			return name
		}
	}

	// If we are above debug level, we want to get rid of the service component when logging to console
	if level > zerolog.DebugLevel {
		writer.FieldsExclude = []string{SERVICE_KEY}
	}

	return writer
}

// NewConsoleLogger returns a Logger at the provided level that writes colorized output to stdout.
func NewConsoleLogger(level zerolog.Level) *Logger {
	l := NewLogger(level)
	l.AddWriter(os.Stdout, UNSTRUCTURED, true)
	return l
}
